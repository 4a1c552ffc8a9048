package api

import (
	"bytes"
	"crypto/ed25519"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/davidahmann/curator/internal/auth"
	"github.com/davidahmann/curator/internal/catalog"
	"github.com/davidahmann/curator/internal/crypto"
	"github.com/davidahmann/curator/internal/ledger"
	"github.com/davidahmann/curator/internal/moderation"
	"github.com/davidahmann/curator/internal/receipts"
	"github.com/davidahmann/curator/pkg/types"
)

const (
	testToken     = "test-token"
	testJWTSecret = "test-secret"
)

type testEnv struct {
	store  *ledger.InMemoryStore
	router http.Handler
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()

	seed := make([]byte, ed25519.SeedSize)
	kp := crypto.NewKeyPair(ed25519.NewKeyFromSeed(seed))

	store := ledger.NewInMemoryStore()
	if err := receipts.RegisterKey(store, kp, time.Now()); err != nil {
		t.Fatalf("register key: %v", err)
	}
	cat := catalog.New(catalog.Species{ID: "sp-python-regius", Label: "Ball Python"})

	proc, err := moderation.NewProcessor(moderation.Config{Store: store, Signer: kp, EventSubject: "curator.decisions"})
	if err != nil {
		t.Fatalf("processor: %v", err)
	}
	h := &Handler{
		Auth:      &auth.MultiAuthenticator{DevToken: testToken, DevSubject: "mod-1", JWTSecret: []byte(testJWTSecret)},
		Store:     store,
		Processor: proc,
		Submitter: moderation.NewSubmitter(store, cat, nil),
		Catalog:   cat,
	}
	return testEnv{store: store, router: NewRouter(h)}
}

func (e testEnv) seed(t *testing.T, id string, stake int64) {
	t.Helper()
	species := "sp-python-regius"
	rec := types.Contribution{
		ID:        id,
		UserID:    "u1",
		Type:      types.TypeMorph,
		SpeciesID: &species,
		CreatedAt: time.Now().UTC().Add(-time.Hour),
		Status:    types.StatusPending,
		Stake:     decimal.NewFromInt(stake),
	}
	if stake > 0 {
		rec.StakeStatus = types.StakeLocked
	}
	if err := e.store.WithTx(func(tx ledger.Tx) error { return tx.InsertContribution(rec) }); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func (e testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	return e.doAs(testToken, method, path, body)
}

// tokenFor issues a JWT for subject, which carries no operator rights.
func tokenFor(t *testing.T, subject string) string {
	t.Helper()
	token, err := auth.IssueToken([]byte(testJWTSecret), "", subject, time.Hour, time.Now())
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func (e testEnv) doAs(token, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
	}
	req.Header.Set("Authorization", "Bearer "+token)
	res := httptest.NewRecorder()
	e.router.ServeHTTP(res, req)
	return res
}
