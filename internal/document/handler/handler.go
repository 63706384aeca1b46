package handler

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/stepdocs/stepdocs/backend/go-services/internal/document"
	"github.com/stepdocs/stepdocs/backend/go-services/internal/document/service"
	"github.com/stepdocs/stepdocs/backend/go-services/internal/storage"
	"github.com/stepdocs/stepdocs/backend/go-services/pkg/logger"
	"github.com/stepdocs/stepdocs/backend/go-services/pkg/middleware"
)

const DefaultMaxUploadBytes = 10 << 20

// Options wires identity and the screenshot gateway into the routes.
type Options struct {
	// Auth must set middleware.UserIDKey or abort.
	Auth gin.HandlerFunc
	// OptionalAuth sets middleware.UserIDKey when a caller is identified.
	OptionalAuth gin.HandlerFunc
	// RateLimit runs after identification so it can key on the subject.
	RateLimit gin.HandlerFunc
	// Gateway backs the upload route; nil leaves it unregistered.
	Gateway        storage.Gateway
	MaxUploadBytes int64
}

type updateRequest struct {
	Title           document.Optional[string]  `json:"title"`
	Description     document.Optional[*string] `json:"description"`
	AnnotationColor document.Optional[string]  `json:"annotationColor"`
	Steps           []document.StepSpec        `json:"steps"`
	DeleteStepIDs   []string                   `json:"deleteStepIds"`
}

func (r updateRequest) desired() document.Desired {
	return document.Desired{
		Metadata: document.MetadataUpdate{
			Title:           r.Title,
			Description:     r.Description,
			AnnotationColor: r.AnnotationColor,
		},
		Steps:         r.Steps,
		DeleteStepIDs: r.DeleteStepIDs,
	}
}

type sharingRequest struct {
	IsPublic *bool `json:"isPublic"`
}

// RegisterDocumentRoutes mounts the document, step and screenshot API.
func RegisterDocumentRoutes(r gin.IRouter, svc service.Service, opts Options) {
	if opts.Auth == nil {
		opts.Auth = func(c *gin.Context) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication not configured"})
		}
	}
	if opts.OptionalAuth == nil {
		opts.OptionalAuth = func(c *gin.Context) { c.Next() }
	}
	if opts.RateLimit == nil {
		opts.RateLimit = func(c *gin.Context) { c.Next() }
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxUploadBytes
	}

	docs := r.Group("/api/documents")
	docs.GET("/:id", opts.OptionalAuth, opts.RateLimit, func(c *gin.Context) {
		d, err := svc.Get(c.Request.Context(), c.Param("id"), middleware.UserID(c))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, d)
	})

	authed := r.Group("/api", opts.Auth, opts.RateLimit)

	authed.POST("/documents", func(c *gin.Context) {
		var req document.NewDocument
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		d, err := svc.Create(c.Request.Context(), middleware.UserID(c), req)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, d)
	})

	authed.GET("/documents", func(c *gin.Context) {
		list, err := svc.ListOwned(c.Request.Context(), middleware.UserID(c))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, nonNil(list))
	})

	authed.GET("/documents/deleted/list", func(c *gin.Context) {
		list, err := svc.ListDeleted(c.Request.Context(), middleware.UserID(c))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, nonNil(list))
	})

	authed.GET("/documents/saved/list", func(c *gin.Context) {
		list, err := svc.ListSaved(c.Request.Context(), middleware.UserID(c))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, nonNil(list))
	})

	authed.PUT("/documents/:id", func(c *gin.Context) {
		var req updateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		d, err := svc.Reconcile(c.Request.Context(), c.Param("id"), middleware.UserID(c), req.desired())
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, d)
	})

	authed.PATCH("/documents/:id/sharing", func(c *gin.Context) {
		var req sharingRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.IsPublic == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "isPublic is required"})
			return
		}
		d, err := svc.UpdateSharing(c.Request.Context(), c.Param("id"), middleware.UserID(c), *req.IsPublic)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, d)
	})

	authed.DELETE("/documents/:id", func(c *gin.Context) {
		if err := svc.SoftDelete(c.Request.Context(), c.Param("id"), middleware.UserID(c)); err != nil {
			writeError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	authed.PUT("/documents/:id/restore", func(c *gin.Context) {
		d, err := svc.Restore(c.Request.Context(), c.Param("id"), middleware.UserID(c))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, d)
	})

	authed.DELETE("/documents/:id/permanent", func(c *gin.Context) {
		if err := svc.PermanentDelete(c.Request.Context(), c.Param("id"), middleware.UserID(c)); err != nil {
			writeError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	authed.POST("/documents/:id/save", func(c *gin.Context) {
		saved, err := svc.Save(c.Request.Context(), c.Param("id"), middleware.UserID(c))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, saved)
	})

	authed.DELETE("/documents/:id/save", func(c *gin.Context) {
		if err := svc.Unsave(c.Request.Context(), c.Param("id"), middleware.UserID(c)); err != nil {
			writeError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	authed.GET("/documents/:id/save-status", func(c *gin.Context) {
		st, err := svc.SaveStatus(c.Request.Context(), c.Param("id"), middleware.UserID(c))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, st)
	})

	authed.DELETE("/steps/:id", func(c *gin.Context) {
		deleted, err := svc.DeleteStep(c.Request.Context(), c.Param("id"), middleware.UserID(c))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, deleted)
	})

	if opts.Gateway != nil {
		authed.POST("/screenshots/upload", uploadHandler(opts.Gateway, opts.MaxUploadBytes))
	}
}

func uploadHandler(gw storage.Gateway, maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		fh, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
			return
		}
		mimeType := fh.Header.Get("Content-Type")
		if !strings.HasPrefix(mimeType, "image/") {
			c.JSON(http.StatusBadRequest, gin.H{"error": "only image uploads are accepted"})
			return
		}
		f, err := fh.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		defer f.Close()
		data, err := io.ReadAll(f)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		res, err := gw.Upload(c.Request.Context(), middleware.UserID(c), data, fh.Filename, mimeType)
		if err != nil {
			logger.Errorf("screenshot upload failed: %v", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "upload failed"})
			return
		}
		c.JSON(http.StatusCreated, res)
	}
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, document.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, document.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, document.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case document.IsRetryable(err):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "retryable": true})
	default:
		logger.Errorf("%s %s: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func nonNil(list []document.Summary) []document.Summary {
	if list == nil {
		return []document.Summary{}
	}
	return list
}
