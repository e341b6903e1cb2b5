// Package server exposes the manager's operation surface over a local
// HTTP API so external presentation collaborators can drive the core.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"toolvm/internal/config"
	"toolvm/internal/download"
	"toolvm/internal/envmgr"
	"toolvm/internal/manager"
	"toolvm/internal/remote"
	"toolvm/internal/system"
)

// Server serves the manager API on a local address.
type Server struct {
	Addr    string
	Manager *manager.Manager
}

// Start runs the HTTP server until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	s.mount(r)

	srv := &http.Server{Addr: s.Addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()
	system.Logger.Info("api server listening", "addr", s.Addr)
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) mount(r *gin.Engine) {
	api := r.Group("/api")
	api.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	api.GET("/state", s.getState)
	api.GET("/tools", s.listTools)
	api.POST("/tools", s.addTool)
	api.DELETE("/tools/:tool", s.deleteTool)
	api.GET("/tools/:tool/installed", s.listInstalled)
	api.GET("/tools/:tool/remote", s.listRemote)
	api.GET("/tools/:tool/progress", s.getProgress)
	api.POST("/tools/:tool/install", s.installVersion)
	api.POST("/tools/:tool/switch", s.switchVersion)
	api.POST("/tools/:tool/uninstall", s.uninstallVersion)
	api.POST("/tools/:tool/lock", s.lockVersion)
	api.POST("/tools/:tool/cancel", s.cancelDownload)
	api.PUT("/tools/:tool/root", s.setToolRoot)
	api.PUT("/tools/:tool/template", s.saveTemplate)
	api.GET("/config", s.getConfig)
	api.POST("/config/reset", s.resetConfig)
	api.POST("/cache/clear", s.clearCache)
	api.GET("/history", s.getHistory)
	api.GET("/mirrors", s.getMirrors)
}

type versionBody struct {
	Version string `json:"version" binding:"required"`
	Locked  *bool  `json:"locked,omitempty"`
}

func (s *Server) getState(c *gin.Context) {
	snap := s.Manager.Snapshot()
	current := map[string]string{}
	for _, tool := range s.Manager.Store().ToolNames() {
		if v, err := s.Manager.CurrentVersion(tool); err == nil && v != "" {
			current[tool] = v
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"statusMessage":   snap.Status,
		"isElevated":      snap.Elevated,
		"inProgress":      snap.InProgress,
		"download":        snap.Download,
		"currentVersions": current,
	})
}

func (s *Server) listTools(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tools": s.Manager.Store().ToolNames()})
}

func (s *Server) addTool(c *gin.Context) {
	var body struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, errJSON(err))
		return
	}
	if err := s.Manager.AddToolConfig(c.Request.Context(), body.Name); err != nil {
		c.JSON(statusFor(err), errJSON(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"tools": s.Manager.Store().ToolNames()})
}

func (s *Server) deleteTool(c *gin.Context) {
	if err := s.Manager.DeleteToolConfig(c.Param("tool")); err != nil {
		c.JSON(statusFor(err), errJSON(err))
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) listInstalled(c *gin.Context) {
	list, err := s.Manager.ListInstalled(c.Request.Context(), c.Param("tool"))
	if err != nil {
		c.JSON(statusFor(err), errJSON(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"versions": list})
}

func (s *Server) listRemote(c *gin.Context) {
	force := c.Query("refresh") == "true"
	groups, err := s.Manager.ListRemote(c.Request.Context(), c.Param("tool"), force)
	if err != nil && groups == nil {
		c.JSON(statusFor(err), errJSON(err))
		return
	}
	resp := gin.H{"groups": groups}
	if err != nil {
		// Stale cache served under mirror failure.
		resp["warning"] = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) getProgress(c *gin.Context) {
	p, ok := s.Manager.DownloadProgress(c.Param("tool"))
	c.JSON(http.StatusOK, gin.H{"inProgress": ok, "progress": p})
}

// installVersion starts a background install and returns its task ID;
// completion is observable via /state, /progress and the history.
func (s *Server) installVersion(c *gin.Context) {
	var body versionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, errJSON(err))
		return
	}
	id := s.Manager.InstallVersionAsync(c.Param("tool"), body.Version)
	c.JSON(http.StatusAccepted, gin.H{"taskId": id})
}

func (s *Server) switchVersion(c *gin.Context) {
	var body versionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, errJSON(err))
		return
	}
	if err := s.Manager.SwitchVersion(c.Request.Context(), c.Param("tool"), body.Version); err != nil {
		c.JSON(statusFor(err), errJSON(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"current": body.Version})
}

func (s *Server) uninstallVersion(c *gin.Context) {
	var body versionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, errJSON(err))
		return
	}
	if err := s.Manager.UninstallVersion(c.Request.Context(), c.Param("tool"), body.Version); err != nil {
		c.JSON(statusFor(err), errJSON(err))
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) lockVersion(c *gin.Context) {
	var body versionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, errJSON(err))
		return
	}
	locked := true
	if body.Locked != nil {
		locked = *body.Locked
	}
	if err := s.Manager.LockVersion(c.Param("tool"), body.Version, locked); err != nil {
		c.JSON(statusFor(err), errJSON(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"version": body.Version, "locked": locked})
}

func (s *Server) cancelDownload(c *gin.Context) {
	canceled := s.Manager.CancelDownload(c.Param("tool"))
	c.JSON(http.StatusOK, gin.H{"canceled": canceled})
}

func (s *Server) setToolRoot(c *gin.Context) {
	var body struct {
		Path string `json:"path" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, errJSON(err))
		return
	}
	if err := s.Manager.SetToolRoot(c.Request.Context(), c.Param("tool"), body.Path); err != nil {
		c.JSON(statusFor(err), errJSON(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": body.Path})
}

func (s *Server) saveTemplate(c *gin.Context) {
	var tmpl config.ToolTemplate
	if err := c.ShouldBindJSON(&tmpl); err != nil {
		c.JSON(http.StatusBadRequest, errJSON(err))
		return
	}
	if err := s.Manager.SaveToolTemplate(c.Request.Context(), c.Param("tool"), &tmpl); err != nil {
		c.JSON(statusFor(err), errJSON(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"tool": c.Param("tool")})
}

func (s *Server) getConfig(c *gin.Context) {
	c.JSON(http.StatusOK, s.Manager.Store().Snapshot())
}

func (s *Server) resetConfig(c *gin.Context) {
	if err := s.Manager.ResetConfig(); err != nil {
		c.JSON(statusFor(err), errJSON(err))
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) clearCache(c *gin.Context) {
	if err := s.Manager.ClearCache(); err != nil {
		c.JSON(statusFor(err), errJSON(err))
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) getHistory(c *gin.Context) {
	recs, err := s.Manager.History(c.Query("tool"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, errJSON(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": recs})
}

func (s *Server) getMirrors(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"mirrors": s.Manager.MirrorStatuses()})
}

// statusFor maps the error taxonomy onto HTTP statuses.
func statusFor(err error) int {
	var (
		nf   *manager.VersionNotFoundError
		inv  *manager.InvalidStateError
		dup  *config.DuplicateToolError
		perr *envmgr.PermissionError
		prog *download.InProgressError
		mex  *remote.MirrorsExhaustedError
	)
	switch {
	case errors.As(err, &nf):
		return http.StatusNotFound
	case errors.As(err, &inv):
		return http.StatusConflict
	case errors.As(err, &dup):
		return http.StatusConflict
	case errors.As(err, &prog):
		return http.StatusConflict
	case errors.As(err, &perr):
		return http.StatusForbidden
	case errors.As(err, &mex):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func errJSON(err error) gin.H { return gin.H{"error": err.Error()} }
