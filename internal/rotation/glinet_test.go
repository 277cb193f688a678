package rotation

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// goodpassCipher is the md5-crypt hash of "goodpass" with salt "abc", as produced by
// openssl passwd -1 -salt abc goodpass.
const goodpassCipher = "$1$abc$rHmhZIKuffTialHgdRm2i0"

type fakeGlinet struct {
	t *testing.T
	// cipher is the md5-crypt hash of the password the router accepts.
	cipher string
	// statuses are returned by successive get_status calls.
	statuses []int

	mu      sync.Mutex
	methods []string
	started []float64
}

func (f *fakeGlinet) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     int64           `json:"id"`
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
	}
	require.NoError(f.t, json.NewDecoder(r.Body).Decode(&req))

	f.mu.Lock()
	defer f.mu.Unlock()

	reply := func(result any) {
		_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": result})
	}

	switch req.Method {
	case "challenge":
		f.methods = append(f.methods, "challenge")
		reply(map[string]any{"salt": "abc", "alg": 1, "nonce": "nonce123"})
	case "login":
		var params struct {
			Username string `json:"username"`
			Hash     string `json:"hash"`
		}
		require.NoError(f.t, json.Unmarshal(req.Params, &params))

		sum := md5.Sum([]byte(params.Username + ":" + f.cipher + ":nonce123"))
		if params.Hash != hex.EncodeToString(sum[:]) {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"jsonrpc": "2.0", "id": req.ID,
				"error": map[string]any{"code": -32000, "message": "Access denied"},
			})

			return
		}

		f.methods = append(f.methods, "login")
		reply(map[string]any{"sid": "sid-1"})
	case "logout":
		f.methods = append(f.methods, "logout")
		reply(map[string]any{})
	case "call":
		var params []json.RawMessage
		require.NoError(f.t, json.Unmarshal(req.Params, &params))
		require.Len(f.t, params, 4)

		var sid, module, method string
		require.NoError(f.t, json.Unmarshal(params[0], &sid))
		require.NoError(f.t, json.Unmarshal(params[1], &module))
		require.NoError(f.t, json.Unmarshal(params[2], &method))
		assert.Equal(f.t, "sid-1", sid)
		assert.Equal(f.t, "wg-client", module)

		f.methods = append(f.methods, method)

		switch method {
		case "get_group_list":
			reply(map[string]any{"groups": []map[string]any{
				{"group_id": 1, "group_name": "Other"},
				{"group_id": 7, "group_name": "Mullvad"},
			}})
		case "get_config_list":
			var args map[string]float64
			require.NoError(f.t, json.Unmarshal(params[3], &args))
			assert.Equal(f.t, float64(7), args["group_id"])

			reply(map[string]any{"peers": []map[string]any{{"peer_id": 42, "name": "se-sto-wg-001"}}})
		case "start":
			var args map[string]float64
			require.NoError(f.t, json.Unmarshal(params[3], &args))
			f.started = append(f.started, args["peer_id"])
			reply(map[string]any{})
		case "get_status":
			status := f.statuses[0]
			if len(f.statuses) > 1 {
				f.statuses = f.statuses[1:]
			}

			reply(map[string]any{"status": status, "domain": "10.64.0.1"})
		default:
			reply(map[string]any{})
		}
	}
}

func newTestGlinet(url string) *Glinet {
	g := NewGlinet(url, "root", "goodpass", "Mullvad")
	g.ConnectWait = 0

	return g
}

func TestGlinet_Reconnect(t *testing.T) {
	fake := &fakeGlinet{t: t, cipher: goodpassCipher, statuses: []int{0, 1}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	require.NoError(t, newTestGlinet(srv.URL).Reconnect(context.Background()))

	assert.Equal(t, []string{
		"challenge", "login", "get_group_list", "get_config_list",
		"stop", "start", "get_status",
		"stop", "start", "get_status",
		"logout",
	}, fake.methods)
	assert.Equal(t, []float64{42, 42}, fake.started)
}

func TestGlinet_UnknownProvider(t *testing.T) {
	fake := &fakeGlinet{t: t, cipher: goodpassCipher, statuses: []int{1}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	g := newTestGlinet(srv.URL)
	g.VPNProvider = "NordVPN"

	err := g.Reconnect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NordVPN not found")
	assert.Equal(t, "logout", fake.methods[len(fake.methods)-1])
}

func TestGlinet_WrongPassword(t *testing.T) {
	fake := &fakeGlinet{t: t, cipher: "$1$abc$wrongwrongwrongwrong00", statuses: []int{1}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	err := newTestGlinet(srv.URL).Reconnect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Access denied")
}

func TestGlinet_Close(t *testing.T) {
	fake := &fakeGlinet{t: t, cipher: goodpassCipher, statuses: []int{1}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	require.NoError(t, newTestGlinet(srv.URL).Close(context.Background()))
	assert.Equal(t, []string{"challenge", "login", "stop", "logout"}, fake.methods)
}

func TestPasswordCipher(t *testing.T) {
	tests := []struct {
		password string
		salt     string
		want     string
	}{
		{"Hello world!", "saltstring", "$1$saltstri$YMyguxXMBpd2TEZ.vS/3q1"},
		{"goodpass", "abc", goodpassCipher},
		{"goodpass", "$1$abc", goodpassCipher},
	}

	for _, tt := range tests {
		got, err := passwordCipher(tt.password, tt.salt)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}
