package middleware

import (
	midsec "dmchat/middleware/security"

	"github.com/gin-gonic/gin"
)

type RouteOpt struct {
	// 非空时用 midsec.SharedSecret 保护路由
	InternalSecret string
}

func (o RouteOpt) chain(handler gin.HandlerFunc) []gin.HandlerFunc {
	if o.InternalSecret != "" {
		return []gin.HandlerFunc{midsec.SharedSecret(o.InternalSecret), handler}
	}
	return []gin.HandlerFunc{handler}
}

func POST(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	r.POST(path, opt.chain(handler)...)
}

func GET(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	r.GET(path, opt.chain(handler)...)
}
