package gcs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

type uploadRecorder struct {
	mu     sync.Mutex
	names  []string
	bodies []string
}

func (u *uploadRecorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	name := r.URL.Query().Get("name")
	u.mu.Lock()
	u.names = append(u.names, name)
	u.bodies = append(u.bodies, string(body))
	u.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"bucket":"exports-bucket","name":%q}`, name)
}

func TestPutObjectUploadsToBucket(t *testing.T) {
	t.Parallel()

	rec := &uploadRecorder{}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	store, err := Dial(context.Background(), Config{
		Bucket:        "exports-bucket",
		ClientOptions: []option.ClientOption{option.WithEndpoint(srv.URL), option.WithoutAuthentication()},
	})
	require.NoError(t, err)
	defer func() { require.NoError(t, store.Close()) }()

	uri, err := store.PutObject(context.Background(), "/exports/2024-06-01/output.csv", "text/csv",
		bytes.NewReader([]byte("id,name\nabc-123,Monzo\n")))
	require.NoError(t, err)
	require.Equal(t, "gs://exports-bucket/exports/2024-06-01/output.csv", uri)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Equal(t, []string{"exports/2024-06-01/output.csv"}, rec.names)
	require.Contains(t, rec.bodies[0], "abc-123,Monzo")
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	store, err := Dial(context.Background(), Config{
		Bucket:        "b",
		ClientOptions: []option.ClientOption{option.WithoutAuthentication()},
	})
	require.NoError(t, err)
	_, err = store.PutObject(context.Background(), "  ", "text/csv", bytes.NewReader(nil))
	require.Error(t, err)
	require.NoError(t, store.Close())

	_, err = Dial(context.Background(), Config{ClientOptions: []option.ClientOption{option.WithoutAuthentication()}})
	require.Error(t, err)
}
