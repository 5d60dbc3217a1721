package graph

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/kylelemons/godebug/pretty"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const firstPage = `{
  "value": [
    {"id": "1", "name": "report.docx", "webUrl": "https://onedrive/report.docx", "size": 2048,
     "file": {"mimeType": "application/vnd.openxmlformats-officedocument.wordprocessingml.document"},
     "thumbnails": [{"id": "0", "medium": {"url": "https://thumbs/1-medium"}}]},
    {"id": "2", "name": "Reports", "webUrl": "https://onedrive/Reports", "size": 0,
     "folder": {"childCount": 3}, "thumbnails": []}
  ],
  "@odata.nextLink": "%s/page2"
}`

const secondPage = `{
  "value": [
    {"id": "3", "name": "report-old.docx", "webUrl": "https://onedrive/report-old.docx", "size": 1024}
  ]
}`

func searchHandler(t *testing.T) (http.Handler, *atomic.Int32) {
	var pages atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/me/drive/root/search(q='report')", func(w http.ResponseWriter, r *http.Request) {
		pages.Add(1)
		assert.Equal(t, "thumbnails", r.URL.Query().Get("$expand"))
		fmt.Fprintf(w, firstPage, "http://"+r.Host)
	})
	mux.HandleFunc("/page2", func(w http.ResponseWriter, r *http.Request) {
		pages.Add(1)
		fmt.Fprint(w, secondPage)
	})
	return mux, &pages
}

func TestSearchDrive_FollowsPages(t *testing.T) {
	handler, pages := searchHandler(t)
	client := newTestClient(t, handler)

	items, err := client.SearchDrive(context.Background(), "report", 10)
	require.NoError(t, err)
	assert.Equal(t, int32(2), pages.Load())

	want := []DriveItem{
		{ID: "1", Name: "report.docx", WebURL: "https://onedrive/report.docx", Size: 2048, ThumbnailURL: "https://thumbs/1-medium"},
		{ID: "2", Name: "Reports", WebURL: "https://onedrive/Reports", IsFolder: true},
		{ID: "3", Name: "report-old.docx", WebURL: "https://onedrive/report-old.docx", Size: 1024},
	}
	if diff := pretty.Compare(want, items); diff != "" {
		t.Errorf("SearchDrive() diff (-want +got):\n%s", diff)
	}
}

func TestSearchDrive_StopsAtLimit(t *testing.T) {
	handler, pages := searchHandler(t)
	client := newTestClient(t, handler)

	items, err := client.SearchDrive(context.Background(), "report", 1)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "report.docx", items[0].Name)
	assert.Equal(t, int32(1), pages.Load())
}

func TestSearchDrive_EmptyQuery(t *testing.T) {
	client := newTestClient(t, http.NotFoundHandler())

	for _, q := range []string{"", "   "} {
		_, err := client.SearchDrive(context.Background(), q, 10)
		assert.ErrorIs(t, err, ErrEmptyQuery)
	}
}

func TestSearchDrive_Cancelled(t *testing.T) {
	handler, pages := searchHandler(t)
	client := newTestClient(t, handler)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	items, err := client.SearchDrive(ctx, "report", 10)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, items)
	assert.Zero(t, pages.Load())
}

func TestSearchDrive_FailingPageKeepsEarlierItems(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/me/drive/root/search(q='report')", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, firstPage, "http://"+r.Host)
	})
	mux.HandleFunc("/page2", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	client := newTestClient(t, mux)

	items, err := client.SearchDrive(context.Background(), "report", 10)
	assert.ErrorIs(t, err, ErrServerError)
	assert.Len(t, items, 2)
}

func TestSearchPath(t *testing.T) {
	assert.Equal(t, "/me/drive/root/search(q='report')?$expand=thumbnails&$top=10", searchPath("report", 10))
	assert.Equal(t, "/me/drive/root/search(q='a%20b')?$expand=thumbnails&$top=200", searchPath("a b", 500))
	assert.Contains(t, searchPath("it's", 5), "it%27%27s")
}

func TestSearchDrive_ForeignNextLinkIsNotFollowed(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, firstPage, "https://attacker.example")
	}))

	items, err := client.SearchDrive(context.Background(), "report", 10)
	require.ErrorIs(t, err, ErrForeignLink)
	assert.Len(t, items, 2)
}
