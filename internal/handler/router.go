package handler

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SetupRouter 配置路由
func SetupRouter(h *Handler, auth *Authenticator, log *zap.Logger) *gin.Engine {
	// 设置 gin 为发布模式（减少日志输出）
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// 注册中间件
	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(log))
	r.Use(LoggerMiddleware(log.Named("access")))
	r.Use(CORSMiddleware())

	// API 路由组，全部需要登录
	api := r.Group("/api/v1", AuthMiddleware(auth))
	{
		orders := api.Group("/orders")
		{
			orders.POST("", h.CreateOrder)
			orders.GET("", h.ListOrders)
			orders.GET("/:id", h.GetOrder)
			orders.PATCH("/:id", h.UpdateOrder)
		}

		customers := api.Group("/customers")
		{
			customers.POST("", h.CreateCustomer)
			customers.GET("/:id", h.GetCustomer)
			customers.POST("/:id/devices", h.RegisterDevice)
		}

		transactions := api.Group("/transactions")
		{
			transactions.POST("", h.CreateTransaction)
			transactions.GET("", h.ListTransactions)
		}

		rates := api.Group("/shipping-rates")
		{
			rates.GET("", h.ListShippingRates)
			rates.POST("", h.CreateShippingRate)
			rates.PUT("/:id", h.UpdateShippingRate)
		}
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
