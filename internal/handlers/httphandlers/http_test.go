package httphandlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Lumerin-protocol/contract-settlement/internal/contract"
	"github.com/Lumerin-protocol/contract-settlement/internal/lib"
	"github.com/Lumerin-protocol/contract-settlement/internal/notify"
	"github.com/Lumerin-protocol/contract-settlement/internal/registry"
	"github.com/Lumerin-protocol/contract-settlement/internal/repositories/memory"
	"github.com/Lumerin-protocol/contract-settlement/internal/service"
	"github.com/Lumerin-protocol/contract-settlement/internal/settlement"
	"github.com/Lumerin-protocol/contract-settlement/internal/signature"
	"github.com/Lumerin-protocol/contract-settlement/internal/testutil"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

const (
	adminToken    = "admin-secret"
	callbackToken = "callback-secret"
)

type sanitized struct{}

func (sanitized) GetSanitized() interface{} { return map[string]string{"env": "test"} }

type server struct {
	engine  *gin.Engine
	signers []testutil.Signer
}

func newServer(t *testing.T, parties int) *server {
	log := lib.NewTestLogger()
	coordinator := settlement.NewCoordinator(settlement.NewMemoryLedger(), settlement.RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    10 * time.Second,
	}, nil, log)
	svc := service.NewContractService(
		service.Config{DefaultExpiry: time.Hour, MaxDocumentBytes: 1 << 16, LockTimeout: time.Second},
		memory.NewContractStore(),
		lib.NewKeyedMutex(),
		signature.NewCollector(signature.NewEthereumVerifier(), log),
		coordinator,
		notify.NewRecorder(),
		lib.NewSystemClock(),
		log,
	)

	s := &server{
		engine: NewHTTPHandler(svc, coordinator, sanitized{}, HTTPHandlerConfig{
			AdminToken:    adminToken,
			CallbackToken: callbackToken,
		}, log),
	}
	for i := 0; i < parties; i++ {
		s.signers = append(s.signers, testutil.NewSigner(t, string(rune('a'+i))+"@example.com"))
	}
	return s
}

func (s *server) do(t *testing.T, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func (s *server) createActive(t *testing.T) *service.ContractStatus {
	t.Helper()
	roles := []string{"initiator", "counterparty"}
	req := CreateContractReq{
		DocumentPayload: DocumentPayload{Document: "Services agreement between the parties"},
		ContentType:     "text/plain",
		Fee:             "1000",
	}
	for i, signer := range s.signers {
		req.Parties = append(req.Parties, registry.PartyInput{PublicKey: signer.PublicKey, Email: signer.Email, Role: roles[i%len(roles)]})
	}

	w := s.do(t, http.MethodPost, "/contracts", req, "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[service.ContractStatus](t, w)
	require.Equal(t, contract.StatusDraft, created.Status)

	w = s.do(t, http.MethodPost, "/contracts/"+created.ID+"/activate", nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	active := decode[service.ContractStatus](t, w)
	require.Equal(t, contract.StatusPendingSignatures, active.Status)
	return &active
}

func (s *server) sign(t *testing.T, c *service.ContractStatus, signer testutil.Signer) *httptest.ResponseRecorder {
	t.Helper()
	return s.do(t, http.MethodPost, "/contracts/"+c.ID+"/signatures", SubmitSignatureReq{
		PublicKey: signer.PublicKey,
		Signature: hexutil.Encode(signer.Sign(t, common.HexToHash(c.DocumentHash))),
	}, "")
}

func TestHealthCheck(t *testing.T) {
	s := newServer(t, 0)
	w := s.do(t, http.MethodGet, "/healthcheck", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	res := decode[map[string]interface{}](t, w)
	require.Equal(t, "healthy", res["status"])
	require.Contains(t, res, "settlements")
}

func TestGetConfig(t *testing.T) {
	s := newServer(t, 0)
	w := s.do(t, http.MethodGet, "/config", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"env":"test"`)
}

func TestContractLifecycle(t *testing.T) {
	s := newServer(t, 2)
	c := s.createActive(t)

	w := s.sign(t, c, s.signers[0])
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, 1, decode[service.ContractStatus](t, w).Signed)

	w = s.sign(t, c, s.signers[1])
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, contract.StatusPendingSettlement, decode[service.ContractStatus](t, w).Status)

	outcome := SettlementOutcomeReq{Kind: settlement.OutcomeConfirmed, SettlementRef: "0xabc"}
	w = s.do(t, http.MethodPost, "/settlements/"+c.ID+"/outcome", outcome, "")
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodPost, "/settlements/"+c.ID+"/outcome", outcome, callbackToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode[SettlementOutcomeRes](t, w)
	require.Equal(t, contract.StatusCompleted, res.Contract.Status)
	require.Equal(t, "0xabc", res.Contract.SettlementRef)

	w = s.do(t, http.MethodGet, "/contracts/"+c.ID, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, contract.StatusCompleted, decode[service.ContractStatus](t, w).Status)

	w = s.do(t, http.MethodGet, "/contracts/"+c.ID+"/parties/"+s.signers[1].PublicKey+"/role", nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, contract.Role("counterparty"), decode[PartyRoleRes](t, w).Role)

	w = s.do(t, http.MethodGet, "/parties/"+s.signers[1].PublicKey+"/contracts", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[[]service.ContractStatus](t, w)
	require.Len(t, list, 1)
	require.Equal(t, c.ID, list[0].ID)
}

func TestErrorMapping(t *testing.T) {
	s := newServer(t, 2)
	c := s.createActive(t)

	w := s.do(t, http.MethodGet, "/contracts/missing", nil, "")
	require.Equal(t, http.StatusNotFound, w.Code)
	res := decode[ErrorRes](t, w)
	require.Equal(t, contract.ErrNotFound.Error(), res.Kind)
	require.False(t, res.Retryable)

	// signed by the wrong key
	w = s.do(t, http.MethodPost, "/contracts/"+c.ID+"/signatures", SubmitSignatureReq{
		PublicKey: s.signers[0].PublicKey,
		Signature: hexutil.Encode(s.signers[1].Sign(t, common.HexToHash(c.DocumentHash))),
	}, "")
	require.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())

	w = s.sign(t, c, s.signers[0])
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodPost, "/contracts/"+c.ID+"/activate", nil, "")
	require.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodPost, "/contracts/"+c.ID+"/signatures", SubmitSignatureReq{
		PublicKey:    s.signers[1].PublicKey,
		Signature:    hexutil.Encode(s.signers[1].Sign(t, common.HexToHash(c.DocumentHash))),
		DocumentHash: common.HexToHash("0x01").Hex(),
	}, "")
	require.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
	require.Equal(t, contract.ErrIntegrity.Error(), decode[ErrorRes](t, w).Kind)

	w = s.do(t, http.MethodPost, "/contracts/"+c.ID+"/signatures", SubmitSignatureReq{
		PublicKey: s.signers[1].PublicKey,
		Signature: "not-hex",
	}, "")
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/contracts", CreateContractReq{
		DocumentPayload: DocumentPayload{Document: "doc"},
	}, "")
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, contract.ErrQuorumUnsatisfiable.Error(), decode[ErrorRes](t, w).Kind)
}

func TestDisputeAndReopen(t *testing.T) {
	s := newServer(t, 2)
	c := s.createActive(t)

	// anyone can read the party keys, a key alone must not be enough
	w := s.do(t, http.MethodPost, "/contracts/"+c.ID+"/disputes", RaiseDisputeReq{
		PublicKey: s.signers[1].PublicKey,
		Reason:    "scope changed",
		Signature: hexutil.Encode(s.signers[0].Sign(t, signature.DisputeDigest(c.ID, "scope changed"))),
	}, "")
	require.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())

	w = s.do(t, http.MethodPost, "/contracts/"+c.ID+"/disputes", RaiseDisputeReq{
		PublicKey: s.signers[1].PublicKey,
		Reason:    "scope changed",
	}, "")
	require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())

	w = s.do(t, http.MethodPost, "/contracts/"+c.ID+"/disputes", RaiseDisputeReq{
		PublicKey: s.signers[1].PublicKey,
		Reason:    "scope changed",
		Signature: hexutil.Encode(s.signers[1].Sign(t, signature.DisputeDigest(c.ID, "scope changed"))),
	}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	disputed := decode[service.ContractStatus](t, w)
	require.Equal(t, contract.StatusDisputed, disputed.Status)
	require.Equal(t, "scope changed", disputed.DisputeReason)

	reopen := ReopenContractReq{Admin: "ops", Reason: "resolved offline"}
	w = s.do(t, http.MethodPost, "/contracts/"+c.ID+"/reopen", reopen, "wrong")
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodPost, "/contracts/"+c.ID+"/reopen", reopen, adminToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, contract.StatusPendingSignatures, decode[service.ContractStatus](t, w).Status)
}

func TestVerifyDocument(t *testing.T) {
	s := newServer(t, 1)
	c := s.createActive(t)

	w := s.do(t, http.MethodPost, "/contracts/"+c.ID+"/verify", DocumentPayload{Document: "Services agreement between the parties"}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.True(t, decode[VerifyDocumentRes](t, w).Valid)

	w = s.do(t, http.MethodPost, "/contracts/"+c.ID+"/verify", DocumentPayload{Document: "U2VydmljZXMgYWdyZWVtZW50", Encoding: "base64"}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.False(t, decode[VerifyDocumentRes](t, w).Valid)
}

func TestRoutesDisabledWithoutToken(t *testing.T) {
	s := newServer(t, 1)
	s.engine = NewHTTPHandler(nil, nil, sanitized{}, HTTPHandlerConfig{}, lib.NewTestLogger())

	w := s.do(t, http.MethodPost, "/contracts/any/reopen", ReopenContractReq{Admin: "ops", Reason: "x"}, "")
	require.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodPost, "/settlements/any/outcome", SettlementOutcomeReq{Kind: settlement.OutcomeInconclusive}, "")
	require.Equal(t, http.StatusForbidden, w.Code)
}
