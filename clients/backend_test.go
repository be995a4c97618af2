package clients

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitwit/sendtag/confirmation"
	"github.com/vitwit/sendtag/types"
)

func newBackend(t *testing.T, h http.HandlerFunc) *BackendClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewBackendClient(srv.URL+"/", "secret", time.Second, nil)
	require.NoError(t, err)
	return c
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]string{"code": code, "message": msg}})
}

func TestNewBackendClient_InvalidURL(t *testing.T) {
	_, err := NewBackendClient("not a url", "", time.Second, nil)
	assert.Equal(t, types.ErrConfigError, types.ErrorCode(err))
}

func TestBackendClient_Tags(t *testing.T) {
	c := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/tags", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`[
			{"name":"abc","status":"confirmed","created_at":"2024-01-01T00:00:00Z"},
			{"name":"sixlet","status":"pending","created_at":"2024-01-02T00:00:00Z"}
		]`))
	})

	tags, err := c.Tags(context.Background())

	require.NoError(t, err)
	require.Len(t, tags, 2)
	assert.Equal(t, types.TagStatusPending, tags[1].Status)
}

func TestBackendClient_TagsInvalidStatus(t *testing.T) {
	c := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"name":"abc","status":"weird"}]`))
	})

	_, err := c.Tags(context.Background())
	assert.Equal(t, types.ErrBackend, types.ErrorCode(err))
}

func TestBackendClient_CreateTagErrors(t *testing.T) {
	cases := []struct {
		pgCode string
		want   string
	}{
		{"23505", types.ErrDuplicateTag},
		{"P0001", types.ErrInsufficientEligibility},
		{"XX000", types.ErrBackend},
	}
	for _, tc := range cases {
		t.Run(tc.pgCode, func(t *testing.T) {
			c := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
				writeError(w, http.StatusBadRequest, tc.pgCode, "rejected")
			})
			err := c.CreateTag(context.Background(), "valid_tag")
			assert.Equal(t, tc.want, types.ErrorCode(err))
			assert.EqualError(t, err, "rejected")
		})
	}
}

func TestBackendClient_CreateTagValidatesName(t *testing.T) {
	called := false
	c := newBackend(t, func(w http.ResponseWriter, r *http.Request) { called = true })

	err := c.CreateTag(context.Background(), "no spaces")

	assert.Equal(t, types.ErrInvalidTag, types.ErrorCode(err))
	assert.False(t, called)
}

func TestBackendClient_DeleteTag(t *testing.T) {
	c := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/tags/old_tag", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	})

	assert.NoError(t, c.DeleteTag(context.Background(), "old_tag"))
}

func TestBackendClient_ConfirmTags(t *testing.T) {
	var bodies []map[string]any
	c := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tags/confirm", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		bodies = append(bodies, body)
	})

	hash := common.HexToHash("0x01")
	require.NoError(t, c.ConfirmTags(context.Background(), &hash))
	require.NoError(t, c.ConfirmTags(context.Background(), nil))

	require.Len(t, bodies, 2)
	assert.Equal(t, hash.Hex(), bodies[0]["transaction_hash"])
	assert.Nil(t, bodies[1]["transaction_hash"])
}

func TestBackendClient_ConfirmTagsKeepsTransientMessage(t *testing.T) {
	hash := common.HexToHash("0x02")
	c := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusBadRequest, "", "Transaction too new.")
	})

	err := c.ConfirmTags(context.Background(), &hash)

	assert.True(t, confirmation.IsNotYetIndexed(err, &hash))
}

func TestBackendClient_NonJSONError(t *testing.T) {
	c := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gateway down", http.StatusBadGateway)
	})

	_, err := c.Receipts(context.Background())
	assert.Equal(t, types.ErrBackend, types.ErrorCode(err))
	assert.ErrorContains(t, err, "502")
}

func TestBackendClient_AddressesAndVerify(t *testing.T) {
	addr := common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	c := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			_, _ = w.Write([]byte(`[{"address":"0xf39fd6e51aad88f6f4ce6ab8827279cfffb92266","chain_id":8453}]`))
		case http.MethodPost:
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, addr.Hex(), body["address"])
			assert.Equal(t, "0xsig", body["signature"])
		}
	})

	addrs, err := c.ChainAddresses(context.Background())
	require.NoError(t, err)
	require.Len(t, addrs, 1)
	assert.Equal(t, addr, addrs[0].Address)

	assert.NoError(t, c.VerifyAddress(context.Background(), addr, "0xsig"))
}
