package httphandlers

import (
	"net/http/pprof"

	"github.com/Lumerin-protocol/contract-settlement/internal/config"
	"github.com/Lumerin-protocol/contract-settlement/internal/interfaces"
	"github.com/Lumerin-protocol/contract-settlement/internal/service"
	"github.com/Lumerin-protocol/contract-settlement/internal/settlement"
	"github.com/gin-gonic/gin"
)

type Sanitizable interface {
	GetSanitized() interface{}
}

type StatsProvider interface {
	Stats() settlement.Stats
}

type HTTPHandler struct {
	// config
	adminToken    string
	callbackToken string

	// deps
	service *service.ContractService
	stats   StatsProvider
	config  Sanitizable
	log     interfaces.ILogger
}

type HTTPHandlerConfig struct {
	AdminToken    string
	CallbackToken string
}

func NewHTTPHandler(svc *service.ContractService, stats StatsProvider, cfg Sanitizable, handlerCfg HTTPHandlerConfig, log interfaces.ILogger) *gin.Engine {
	handl := &HTTPHandler{
		adminToken:    handlerCfg.AdminToken,
		callbackToken: handlerCfg.CallbackToken,
		service:       svc,
		stats:         stats,
		config:        cfg,
		log:           log,
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthcheck", handl.HealthCheck)
	r.GET("/config", handl.GetConfig)

	r.POST("/contracts", handl.CreateContract)
	r.GET("/contracts/:ID", handl.GetContract)
	r.POST("/contracts/:ID/activate", handl.ActivateContract)
	r.POST("/contracts/:ID/signatures", handl.SubmitSignature)
	r.POST("/contracts/:ID/disputes", handl.RaiseDispute)
	r.GET("/contracts/:ID/parties/:publicKey/role", handl.GetPartyRole)
	r.POST("/contracts/:ID/verify", handl.VerifyDocument)
	r.POST("/contracts/:ID/settlement/resubmit", handl.ResubmitSettlement)
	r.POST("/contracts/:ID/reopen", bearerAuth(handl.adminToken), handl.ReopenContract)
	r.GET("/parties/:publicKey/contracts", handl.ListPartyContracts)

	r.POST("/settlements/:ID/outcome", bearerAuth(handl.callbackToken), handl.SettlementOutcome)

	r.Any("/debug/pprof/*action", gin.WrapF(pprof.Index))

	err := r.SetTrustedProxies(nil)
	if err != nil {
		panic(err)
	}

	return r
}

func (h *HTTPHandler) HealthCheck(ctx *gin.Context) {
	ctx.JSON(200, gin.H{
		"status":      "healthy",
		"version":     config.BuildVersion,
		"settlements": h.stats.Stats(),
	})
}
