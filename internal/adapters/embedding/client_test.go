package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/omninode-ai/omniintelligence-core/internal/adapters/httpclient"
)

func TestClientEmbedDecodesVectorsInOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embeddingsRequest
		json.NewDecoder(r.Body).Decode(&req)
		resp := embeddingsResponse{Data: make([]embeddingDatum, len(req.Input))}
		for i := range req.Input {
			resp.Data[i] = embeddingDatum{Embedding: []float32{float32(i), float32(i + 1)}}
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	hc := httpclient.New(httpclient.Opts{MaxAttempts: 1, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, RequestTimeout: time.Second})
	c := New(srv.URL, "text-embedding-3-small", hc)

	vecs, err := c.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vecs) != 2 || vecs[0][0] != 0 || vecs[1][0] != 1 {
		t.Fatalf("unexpected vectors: %+v", vecs)
	}
}

func TestClientEmbedSurfacesNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	hc := httpclient.New(httpclient.Opts{MaxAttempts: 1, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, RequestTimeout: time.Second})
	c := New(srv.URL, "m", hc)

	_, err := c.Embed(context.Background(), []string{"a"})
	if err == nil {
		t.Fatal("expected error for 400 response")
	}
}
