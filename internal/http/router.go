/* Copyright (c) 2025 Hauer92 <https://github.com/Hauer92>
 * SPDX-License-Identifier: BSD-3-Clause */
package http

import (
    "github.com/Hauer92/fae-issue-report/internal/config"
    "github.com/gin-gonic/gin"
    "github.com/rs/zerolog"
)

func NewRouter(cfg config.Config, log zerolog.Logger, svc service) *gin.Engine {
    if cfg.AppEnv != "dev" { gin.SetMode(gin.ReleaseMode) }
    r := gin.New()
    r.Use(gin.Recovery())
    r.Use(func(c *gin.Context){
        c.Next()
        log.Info().Str("m", c.Request.Method).Str("p", c.FullPath()).Int("s", c.Writer.Status()).Msg("http")
    })

    h := NewHandlers(cfg, log, svc)

    r.GET("/healthz", h.Healthz)

    api := r.Group("/api")
    {
        api.POST("/projects", h.CreateProject)
        api.GET("/projects", h.ListProjects)
        api.GET("/projects/:id", h.GetProject)

        api.POST("/assets", h.CreateAsset)
        api.GET("/assets", h.ListAssets)

        api.POST("/issues", h.CreateIssue)
        api.GET("/issues", h.ListIssues)
        api.GET("/issues/:id", h.GetIssue)
        api.PATCH("/issues/:id", h.UpdateIssue)
        api.GET("/issues/:id/events", h.ListIssueEvents)

        api.POST("/issues/:id/comments", h.AddComment)
        api.GET("/issues/:id/comments", h.ListComments)

        api.POST("/issues/:id/attachments", h.AddAttachment)
        api.GET("/issues/:id/attachments", h.ListAttachments)
    }

    admin := r.Group("/admin")
    {
        admin.GET("/dispatch", h.DispatchSnapshot)
        admin.POST("/dispatch/:id/retry", h.RetryDeadJob)
        admin.POST("/sla-scan", h.RunSLAScan)
    }

    return r
}
