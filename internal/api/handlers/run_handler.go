package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/apk-analysis/apk-libdetector/internal/repository"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const maxPageSize = 200

// RunHandler 扫描运行查询处理器
type RunHandler struct {
	repo   repository.ScanRepository
	logger *logrus.Logger
}

// NewRunHandler 创建处理器实例
func NewRunHandler(repo repository.ScanRepository, logger *logrus.Logger) *RunHandler {
	return &RunHandler{
		repo:   repo,
		logger: logger,
	}
}

// ListRuns 获取运行列表
// GET /api/runs?page=1&limit=20
func (h *RunHandler) ListRuns(c *gin.Context) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid page"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit < 1 || limit > maxPageSize {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}

	runs, total, err := h.repo.ListRuns(c.Request.Context(), page, limit)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list scan runs")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}

	pages := int(total) / limit
	if int(total)%limit != 0 {
		pages++
	}

	c.JSON(http.StatusOK, gin.H{
		"runs": runs,
		"pagination": gin.H{
			"page":  page,
			"limit": limit,
			"total": total,
			"pages": pages,
		},
	})
}

// GetRun 获取单次运行
// GET /api/runs/:id
func (h *RunHandler) GetRun(c *gin.Context) {
	run, err := h.repo.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

// ListLibraries 获取单次运行的库计数
// GET /api/runs/:id/libraries
func (h *RunHandler) ListLibraries(c *gin.Context) {
	id := c.Param("id")
	run, err := h.repo.GetRun(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}

	counts, err := h.repo.ListLibraryCounts(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"run_id":         run.ID,
		"total_packages": run.TotalPackages,
		"libraries":      counts,
	})
}

func (h *RunHandler) respondError(c *gin.Context, err error) {
	if errors.Is(err, repository.ErrRunNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	h.logger.WithError(err).WithField("run_id", c.Param("id")).Error("Failed to query scan run")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
}
