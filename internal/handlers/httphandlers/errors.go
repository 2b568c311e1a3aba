package httphandlers

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/Lumerin-protocol/contract-settlement/internal/contract"
	"github.com/gin-gonic/gin"
)

var errUnauthorized = errors.New("unauthorized")

func statusOf(err error) int {
	switch contract.Kind(err) {
	case contract.ErrValidation, contract.ErrQuorumUnsatisfiable:
		return http.StatusBadRequest
	case contract.ErrNotFound:
		return http.StatusNotFound
	case contract.ErrInvalidTransition, contract.ErrDuplicateSignature, contract.ErrOutOfOrderSignature:
		return http.StatusConflict
	case contract.ErrInvalidSignature, contract.ErrIntegrity:
		return http.StatusUnprocessableEntity
	case contract.ErrSettlement:
		return http.StatusBadGateway
	case contract.ErrUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *HTTPHandler) abort(ctx *gin.Context, err error) {
	code := statusOf(err)
	if code >= http.StatusInternalServerError {
		h.log.Errorf("%s %s: %s", ctx.Request.Method, ctx.FullPath(), err)
	} else {
		h.log.Debugf("%s %s: %s", ctx.Request.Method, ctx.FullPath(), err)
	}

	res := ErrorRes{
		Error:     err.Error(),
		Retryable: contract.IsRetryable(err),
	}
	if kind := contract.Kind(err); kind != nil {
		res.Kind = kind.Error()
	}
	ctx.AbortWithStatusJSON(code, res)
}

func badRequest(ctx *gin.Context, err error) {
	ctx.AbortWithStatusJSON(http.StatusBadRequest, ErrorRes{Error: err.Error(), Kind: contract.ErrValidation.Error()})
}

// bearerAuth guards a route with a static token. An empty token disables the route
func bearerAuth(token string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if token == "" {
			ctx.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "endpoint disabled"})
			return
		}
		given, ok := strings.CutPrefix(ctx.GetHeader("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(given), []byte(token)) != 1 {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errUnauthorized.Error()})
			return
		}
		ctx.Next()
	}
}
