package rotation

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/GehirnInc/crypt/md5_crypt"
	"github.com/italolelis/mega_downloader/internal/logctx"
)

const (
	glinetAlgMD5Crypt  = 1
	glinetVPNConnected = 1

	md5CryptPrefix = "$1$"
)

// Glinet rotates the identity by switching a GL.iNet router's WireGuard client to a
// random server of the configured VPN provider.
type Glinet struct {
	URL         string
	Username    string
	Password    string
	VPNProvider string
	// ConnectWait is how long a freshly started tunnel gets before its status is checked.
	ConnectWait time.Duration

	httpClient *http.Client
	requestID  atomic.Int64
}

func NewGlinet(url, username, password, vpnProvider string) *Glinet {
	return &Glinet{
		URL:         url,
		Username:    username,
		Password:    password,
		VPNProvider: vpnProvider,
		ConnectWait: 10 * time.Second,
		httpClient:  newHTTPClient(10 * time.Second),
	}
}

func (g *Glinet) Name() string {
	return "glinet"
}

type glinetPeer struct {
	PeerID int    `json:"peer_id"`
	Name   string `json:"name"`
}

type glinetStatus struct {
	Status int    `json:"status"`
	Domain string `json:"domain"`
}

// Reconnect connects the WireGuard client to random peers of the provider group until one
// of them reports a working tunnel or ctx ends.
func (g *Glinet) Reconnect(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx).With("vpn_provider", g.VPNProvider)

	sid, err := g.login(ctx)
	if err != nil {
		return err
	}
	defer g.logout(context.WithoutCancel(ctx), sid)

	groupID, err := g.findGroup(ctx, sid)
	if err != nil {
		return err
	}

	var peers struct {
		Peers []glinetPeer `json:"peers"`
	}

	if err := g.call(ctx, sid, "get_config_list", map[string]any{"group_id": groupID}, &peers); err != nil {
		return err
	}

	if len(peers.Peers) == 0 {
		return fmt.Errorf("vpn provider %s has no servers configured", g.VPNProvider)
	}

	for {
		if err := g.call(ctx, sid, "stop", map[string]any{}, nil); err != nil {
			return err
		}

		peer := peers.Peers[rand.Intn(len(peers.Peers))]

		logger.InfoContext(ctx, "connecting to vpn server", "server", peer.Name)

		if err := g.call(ctx, sid, "start", map[string]any{"group_id": groupID, "peer_id": peer.PeerID}, nil); err != nil {
			return err
		}

		if err := sleep(ctx, g.ConnectWait); err != nil {
			return err
		}

		var status glinetStatus
		if err := g.call(ctx, sid, "get_status", map[string]any{}, &status); err != nil {
			return err
		}

		if status.Status == glinetVPNConnected {
			logger.InfoContext(ctx, "connected to vpn server", "server", peer.Name, "domain", status.Domain)

			return nil
		}

		logger.WarnContext(ctx, "connecting to vpn server failed, selecting another one", "server", peer.Name)
	}
}

// Close stops the WireGuard client so the router is left on its normal uplink.
func (g *Glinet) Close(ctx context.Context) error {
	sid, err := g.login(ctx)
	if err != nil {
		return err
	}
	defer g.logout(context.WithoutCancel(ctx), sid)

	if err := g.call(ctx, sid, "stop", map[string]any{}, nil); err != nil {
		return err
	}

	logctx.LoggerFromContext(ctx).InfoContext(ctx, "stopped the vpn client")

	return nil
}

func (g *Glinet) findGroup(ctx context.Context, sid string) (int, error) {
	var groups struct {
		Groups []struct {
			GroupID   int    `json:"group_id"`
			GroupName string `json:"group_name"`
		} `json:"groups"`
	}

	if err := g.call(ctx, sid, "get_group_list", map[string]any{}, &groups); err != nil {
		return 0, err
	}

	for _, group := range groups.Groups {
		if group.GroupName == g.VPNProvider {
			return group.GroupID, nil
		}
	}

	return 0, fmt.Errorf("%s not found as vpn provider", g.VPNProvider)
}

func (g *Glinet) login(ctx context.Context) (string, error) {
	var challenge struct {
		Salt  string `json:"salt"`
		Alg   int    `json:"alg"`
		Nonce string `json:"nonce"`
	}

	if err := g.rpc(ctx, "challenge", map[string]any{"username": g.Username}, &challenge); err != nil {
		return "", fmt.Errorf("glinet challenge failed: %w", err)
	}

	if challenge.Alg != glinetAlgMD5Crypt {
		return "", fmt.Errorf("unsupported glinet password algorithm %d", challenge.Alg)
	}

	cipher, err := passwordCipher(g.Password, challenge.Salt)
	if err != nil {
		return "", err
	}

	sum := md5.Sum([]byte(g.Username + ":" + cipher + ":" + challenge.Nonce))

	var session struct {
		SID string `json:"sid"`
	}

	if err := g.rpc(ctx, "login", map[string]any{"username": g.Username, "hash": hex.EncodeToString(sum[:])}, &session); err != nil {
		return "", fmt.Errorf("glinet login failed: %w", err)
	}

	return session.SID, nil
}

// passwordCipher derives the md5-crypt ("$1$") hash the router checks logins against.
func passwordCipher(password, salt string) (string, error) {
	cipher, err := md5_crypt.New().Generate([]byte(password), []byte(md5CryptPrefix+strings.TrimPrefix(salt, md5CryptPrefix)))
	if err != nil {
		return "", fmt.Errorf("failed to hash glinet password: %w", err)
	}

	return cipher, nil
}

func (g *Glinet) logout(ctx context.Context, sid string) {
	if err := g.rpc(ctx, "logout", map[string]any{"sid": sid}, nil); err != nil {
		logctx.LoggerFromContext(ctx).DebugContext(ctx, "glinet logout failed", "err", err)
	}
}

func (g *Glinet) call(ctx context.Context, sid, method string, params any, result any) error {
	if err := g.rpc(ctx, "call", []any{sid, "wg-client", method, params}, result); err != nil {
		return fmt.Errorf("glinet wg-client %s failed: %w", method, err)
	}

	return nil
}

func (g *Glinet) rpc(ctx context.Context, method string, params any, result any) error {
	payload := map[string]any{
		"jsonrpc": "2.0",
		"id":      g.requestID.Add(1),
		"method":  method,
		"params":  params,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)

		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(b))
	}

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if rpcResp.Error != nil {
		return fmt.Errorf("rpc error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}

	if result == nil || len(rpcResp.Result) == 0 {
		return nil
	}

	return json.Unmarshal(rpcResp.Result, result)
}
