package tokencache

import "github.com/AzureAD/microsoft-authentication-library-for-go/apps/cache"

func cacheExportHints() cache.ExportHints   { return cache.ExportHints{} }
func cacheReplaceHints() cache.ReplaceHints { return cache.ReplaceHints{} }
