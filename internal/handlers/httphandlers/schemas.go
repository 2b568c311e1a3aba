package httphandlers

import (
	"time"

	"github.com/Lumerin-protocol/contract-settlement/internal/contract"
	"github.com/Lumerin-protocol/contract-settlement/internal/registry"
	"github.com/Lumerin-protocol/contract-settlement/internal/service"
	"github.com/Lumerin-protocol/contract-settlement/internal/settlement"
)

type ConfigResponse struct {
	Version string
	Config  interface{}
}

// DocumentPayload carries a document either as text or, when Encoding is
// "base64", as base64 encoded bytes
type DocumentPayload struct {
	Document string `json:"document" binding:"required"`
	Encoding string `json:"encoding" binding:"omitempty,oneof=utf8 base64"`
}

type CreateContractReq struct {
	DocumentPayload
	ContentType              string                `json:"contentType"`
	Parties                  []registry.PartyInput `json:"parties"`
	MinSigners               int                   `json:"minSigners" binding:"min=0"`
	RequireSequentialSigning bool                  `json:"requireSequentialSigning"`
	Fee                      string                `json:"fee"` // decimal integer, smallest unit
	SharesBps                []uint32              `json:"sharesBps"`
	ExpiryDate               *time.Time            `json:"expiryDate"`
}

type SubmitSignatureReq struct {
	PublicKey    string `json:"publicKey" binding:"required"`
	Signature    string `json:"signature" binding:"required"` // hex, 65 bytes [R || S || V]
	DocumentHash string `json:"documentHash"`                 // hex, optional
}

// RaiseDisputeReq is signed by the disputing party over
// keccak256(contractID || "dispute" || reason)
type RaiseDisputeReq struct {
	PublicKey string `json:"publicKey" binding:"required"`
	Reason    string `json:"reason" binding:"required"`
	Signature string `json:"signature" binding:"required"` // hex, 65 bytes [R || S || V]
}

type ReopenContractReq struct {
	Admin  string `json:"admin" binding:"required"`
	Reason string `json:"reason" binding:"required"`
}

type ResubmitSettlementReq struct {
	Actor string `json:"actor"`
}

type SettlementOutcomeReq struct {
	Kind          settlement.OutcomeKind `json:"kind" binding:"required,oneof=Confirmed RejectedPermanently Inconclusive"`
	SettlementRef string                 `json:"settlementRef"`
	Reason        string                 `json:"reason"`
}

type SettlementOutcomeRes struct {
	Contract   *service.ContractStatus `json:"contract"`
	Attempt    int                     `json:"attempt,omitempty"`
	NextPollAt *time.Time              `json:"nextPollAt,omitempty"`
	Error      string                  `json:"error,omitempty"`
}

type PartyRoleRes struct {
	Role contract.Role `json:"role"`
}

type VerifyDocumentRes struct {
	Valid bool `json:"valid"`
}

type ErrorRes struct {
	Error     string `json:"error"`
	Kind      string `json:"kind,omitempty"`
	Retryable bool   `json:"retryable"`
}
