package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RegistryAccord/registryaccord-handles-go/internal/config"
	"github.com/RegistryAccord/registryaccord-handles-go/internal/handle"
	"github.com/RegistryAccord/registryaccord-handles-go/internal/sigverify"
	"github.com/RegistryAccord/registryaccord-handles-go/internal/storage"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Wires the same components main uses over a miniredis-backed store.
func TestHandled_Integration(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg, err := config.LoadFrom(map[string]string{
		"HANDLE_STORE_BACKEND": "redis",
		"HANDLE_REDIS_URL":     "redis://" + mr.Addr() + "/0",
	})
	require.NoError(t, err)

	store, err := openStore(context.Background(), cfg, quietLogger())
	require.NoError(t, err)
	defer store.Close()
	_, isBreaker := store.(*storage.Breaker)
	assert.True(t, isBreaker)

	h, err := buildHandler(cfg, store, quietLogger())
	require.NoError(t, err)
	ts := httptest.NewServer(h.Router())
	defer ts.Close()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	msg := handle.ClaimMessage("zoll")
	sig, err := sigverify.SignPersonalHex(key, msg)
	require.NoError(t, err)
	body, _ := json.Marshal(map[string]string{
		"handle":       "@zoll",
		"ownerAddress": sigverify.Address(key),
		"message":      msg,
		"signature":    sig,
	})

	resp, err := http.Post(ts.URL+"/v1/claims", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/v1/claims", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/v1/handles/@ZOLL")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Data struct {
			Handle       string `json:"handle"`
			OwnerAddress string `json:"ownerAddress"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "zoll", out.Data.Handle)
	assert.Equal(t, sigverify.Address(key), out.Data.OwnerAddress)

	assert.True(t, mr.Exists("handle:zoll"))
}

func TestOpenStore_Memory(t *testing.T) {
	cfg, err := config.LoadFrom(map[string]string{})
	require.NoError(t, err)

	store, err := openStore(context.Background(), cfg, quietLogger())
	require.NoError(t, err)
	_, ok := store.(*storage.Memory)
	assert.True(t, ok, "memory backend is not wrapped in a breaker")
}

func TestOpenStore_GivesUp(t *testing.T) {
	cfg, err := config.LoadFrom(map[string]string{
		"HANDLE_STORE_BACKEND":         "redis",
		"HANDLE_REDIS_URL":             "redis://127.0.0.1:1/0",
		"HANDLE_STORE_CONNECT_TIMEOUT": "1s",
	})
	require.NoError(t, err)

	start := time.Now()
	_, err = openStore(context.Background(), cfg, quietLogger())
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 15*time.Second)
}

func TestRun_StopsOnCancel(t *testing.T) {
	cfg, err := config.LoadFrom(map[string]string{
		"HANDLE_HTTP_ADDR":    "127.0.0.1:0",
		"HANDLE_METRICS_ADDR": "127.0.0.1:0",
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, cfg, quietLogger()) }()

	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}
