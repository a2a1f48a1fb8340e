package router

import (
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gogogo1024/reportgate/services/reportaccess/biz/handler"
)

// Register binds the access API. gatherer backs GET /metrics; nil skips it.
func Register(r *server.Hertz, gatherer prometheus.Gatherer) {
	v1 := r.Group("/v1")

	v1.POST("/reports", handler.CreateReportWithKey)
	v1.PUT("/reports/:key", handler.CreateReport)
	v1.DELETE("/reports/:key", handler.DeleteReport)

	v1.PUT("/reports/:key/access-policy", handler.SetPolicy)
	v1.GET("/reports/:key/access-policy", handler.GetPolicy)
	v1.DELETE("/reports/:key/access-policy", handler.RemovePolicy)

	v1.POST("/reports/:key/access/check", handler.CheckAccess)
	v1.POST("/reports/:key/access/record", handler.RecordAccess)
	v1.POST("/reports/:key/open", handler.OpenReport)

	v1.GET("/access/stats", handler.AccessStats)

	if gatherer != nil {
		r.GET("/metrics", adaptor.HertzHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
}
