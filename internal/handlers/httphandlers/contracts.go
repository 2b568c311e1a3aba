package httphandlers

import (
	"encoding/base64"
	"fmt"
	"math/big"
	"net/http"

	"github.com/Lumerin-protocol/contract-settlement/internal/contract"
	"github.com/Lumerin-protocol/contract-settlement/internal/integrity"
	"github.com/Lumerin-protocol/contract-settlement/internal/lib"
	"github.com/Lumerin-protocol/contract-settlement/internal/service"
	"github.com/Lumerin-protocol/contract-settlement/internal/settlement"
	"github.com/Lumerin-protocol/contract-settlement/internal/signature"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"
)

func (h *HTTPHandler) CreateContract(ctx *gin.Context) {
	var req CreateContractReq
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, err)
		return
	}
	doc, err := req.DocumentPayload.Bytes()
	if err != nil {
		badRequest(ctx, err)
		return
	}

	in := service.CreateContractInput{
		Document:    doc,
		ContentType: req.ContentType,
		Parties:     req.Parties,
		Policy: contract.Policy{
			MinSigners:               req.MinSigners,
			RequireSequentialSigning: req.RequireSequentialSigning,
		},
		Terms: contract.Terms{SharesBps: req.SharesBps},
	}
	if req.Fee != "" {
		fee, ok := new(big.Int).SetString(req.Fee, 10)
		if !ok {
			badRequest(ctx, fmt.Errorf("invalid fee %q", req.Fee))
			return
		}
		in.Terms.Fee = fee
	}
	if req.ExpiryDate != nil {
		in.ExpiryDate = *req.ExpiryDate
	}

	c, err := h.service.CreateContract(ctx, in)
	if err != nil {
		h.abort(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, service.StatusOf(c))
}

func (h *HTTPHandler) GetContract(ctx *gin.Context) {
	status, err := h.service.GetContractStatus(ctx, ctx.Param("ID"))
	if err != nil {
		h.abort(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, status)
}

func (h *HTTPHandler) ActivateContract(ctx *gin.Context) {
	c, err := h.service.ActivateContract(ctx, ctx.Param("ID"))
	if err != nil {
		h.abort(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, service.StatusOf(c))
}

func (h *HTTPHandler) SubmitSignature(ctx *gin.Context) {
	var req SubmitSignatureReq
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, err)
		return
	}
	sig, err := decodeHex(req.Signature)
	if err != nil {
		badRequest(ctx, fmt.Errorf("signature: %w", err))
		return
	}

	sub := signature.Submission{
		ContractID: ctx.Param("ID"),
		PublicKey:  req.PublicKey,
		Signature:  sig,
	}
	if req.DocumentHash != "" {
		hash, err := integrity.ParseHash(req.DocumentHash)
		if err != nil {
			badRequest(ctx, err)
			return
		}
		sub.DocumentHash = &hash
	}

	c, err := h.service.SubmitSignature(ctx, sub)
	if err != nil {
		h.abort(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, service.StatusOf(c))
}

func (h *HTTPHandler) RaiseDispute(ctx *gin.Context) {
	var req RaiseDisputeReq
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, err)
		return
	}
	sig, err := decodeHex(req.Signature)
	if err != nil {
		badRequest(ctx, fmt.Errorf("signature: %w", err))
		return
	}
	c, err := h.service.RaiseDispute(ctx, ctx.Param("ID"), req.PublicKey, req.Reason, sig)
	if err != nil {
		h.abort(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, service.StatusOf(c))
}

func (h *HTTPHandler) ReopenContract(ctx *gin.Context) {
	var req ReopenContractReq
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, err)
		return
	}
	c, err := h.service.ReopenContract(ctx, ctx.Param("ID"), req.Admin, req.Reason)
	if err != nil {
		h.abort(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, service.StatusOf(c))
}

func (h *HTTPHandler) ResubmitSettlement(ctx *gin.Context) {
	var req ResubmitSettlementReq
	if ctx.Request.ContentLength != 0 {
		if err := ctx.ShouldBindJSON(&req); err != nil {
			badRequest(ctx, err)
			return
		}
	}
	if req.Actor == "" {
		req.Actor = "api"
	}
	c, err := h.service.ResubmitSettlement(ctx, ctx.Param("ID"), req.Actor)
	if err != nil {
		h.abort(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, service.StatusOf(c))
}

func (h *HTTPHandler) VerifyDocument(ctx *gin.Context) {
	var req DocumentPayload
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, err)
		return
	}
	doc, err := req.Bytes()
	if err != nil {
		badRequest(ctx, err)
		return
	}
	valid, err := h.service.VerifyDocument(ctx, ctx.Param("ID"), doc)
	if err != nil {
		h.abort(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, VerifyDocumentRes{Valid: valid})
}

func (h *HTTPHandler) ListPartyContracts(ctx *gin.Context) {
	contracts, err := h.service.ListContractsByParty(ctx, ctx.Param("publicKey"))
	if err != nil {
		h.abort(ctx, err)
		return
	}
	res := make([]*service.ContractStatus, len(contracts))
	for i := range contracts {
		res[i] = service.StatusOf(&contracts[i])
	}
	ctx.JSON(http.StatusOK, res)
}

func (h *HTTPHandler) GetPartyRole(ctx *gin.Context) {
	role, err := h.service.Registry().RoleOf(ctx, ctx.Param("ID"), ctx.Param("publicKey"))
	if err != nil {
		h.abort(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, PartyRoleRes{Role: role})
}

// SettlementOutcome receives the ledger callback for a submitted settlement
func (h *HTTPHandler) SettlementOutcome(ctx *gin.Context) {
	var req SettlementOutcomeReq
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, err)
		return
	}
	outcome := settlement.Outcome{
		Kind:          req.Kind,
		SettlementRef: req.SettlementRef,
		Reason:        req.Reason,
	}

	result, err := h.service.HandleSettlementOutcome(ctx, ctx.Param("ID"), outcome)
	if err != nil {
		h.abort(ctx, err)
		return
	}

	res := SettlementOutcomeRes{
		Contract: service.StatusOf(result.Contract),
		Attempt:  result.Attempt,
	}
	if !result.NextPollAt.IsZero() {
		res.NextPollAt = &result.NextPollAt
	}
	if result.Err != nil {
		res.Error = result.Err.Error()
	}
	ctx.JSON(http.StatusOK, res)
}

func (p DocumentPayload) Bytes() ([]byte, error) {
	if p.Encoding == "base64" {
		doc, err := base64.StdEncoding.DecodeString(p.Document)
		if err != nil {
			return nil, fmt.Errorf("document: %w", err)
		}
		return doc, nil
	}
	return []byte(p.Document), nil
}

func decodeHex(s string) ([]byte, error) {
	return hexutil.Decode(lib.EnsureHexPrefix(s))
}
