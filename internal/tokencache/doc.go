// Package tokencache makes the identity library's in-memory token cache durable
// across process restarts.
//
// The whole cache is stored as one opaque blob at dir/FileName. Cache implements
// MSAL's cache.ExportReplace: Replace runs before MSAL reads the cache and loads
// the file, Export runs after MSAL mutated it and writes the file back, but only
// when the serialized state differs from what was last loaded or stored.
//
// Confidentiality is provided by a Protector chosen at configuration time:
//
//	key, _ := secretstore.NewKeyringStore("graphauth", username)
//	p, _ := tokencache.NewSealedProtector(ctx, key)
//	c, _ := tokencache.New(dir, p)
//	client, _ := public.New(clientID, public.WithCache(c))
//
// PlaintextProtector exists for platforms without a usable secret store and is
// logged as insecure.
//
// A Cache serializes its own hooks with one mutex. Processes sharing the same
// file are not coordinated.
package tokencache
