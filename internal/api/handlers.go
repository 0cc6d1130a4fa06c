package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"supportbot/internal/auth"
	"supportbot/internal/chat"
	"supportbot/internal/database/mysql"
	"supportbot/internal/models"
	"supportbot/internal/rag/lifecycle"
	"supportbot/internal/store"
	"supportbot/pkg/logger"
)

// Answerer handles one chat query for a user. *chat.Service implements it.
type Answerer interface {
	Answer(ctx context.Context, userID uint, query string) (*chat.Result, error)
}

// UserDirectory resolves users for login and token subjects.
// *store.UserStore implements it.
type UserDirectory interface {
	GetByID(ctx context.Context, id uint) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}

// Handler carries the dependencies shared by the HTTP endpoints.
type Handler struct {
	chat     Answerer
	users    UserDirectory
	manager  *lifecycle.Manager
	verifier *auth.Verifier
	docDir   string
	log      *logger.Logger
}

// NewHandler creates the endpoint handler set.
func NewHandler(
	chatSvc Answerer,
	users UserDirectory,
	manager *lifecycle.Manager,
	verifier *auth.Verifier,
	docDir string,
	log *logger.Logger,
) *Handler {
	return &Handler{
		chat:     chatSvc,
		users:    users,
		manager:  manager,
		verifier: verifier,
		docDir:   docDir,
		log:      log,
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type queryRequest struct {
	Query string `json:"query"`
}

// Login authenticates an email/password pair and issues a Bearer token.
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Email == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "email and password are required"})
		return
	}

	user, err := h.users.GetByEmail(c.Request.Context(), req.Email)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"message": "Invalid email or password"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Internal server error"})
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "Invalid email or password"})
		return
	}

	roles := []string{"ROLE_" + strings.ToUpper(user.Role)}
	token, err := h.verifier.IssueToken(strconv.FormatUint(uint64(user.ID), 10), roles)
	if err != nil {
		h.log.Error(fmt.Sprintf("Failed to issue token for user %d: %v", user.ID, err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token": token,
		"type":  "Bearer",
		"id":    user.ID,
		"email": user.Email,
		"roles": roles,
	})
}

// Query answers one chat query for the authenticated user.
func (h *Handler) Query(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Query) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "query is required"})
		return
	}

	userID, ok := h.requestUser(c)
	if !ok {
		return
	}

	result, err := h.chat.Answer(c.Request.Context(), userID, req.Query)
	if err != nil {
		h.log.Error(fmt.Sprintf("Query failed for user %d: %v", userID, err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, result)
}

// UploadFile accepts a PDF via multipart form and stores it in the document
// directory. The index is not rebuilt until a restart is requested.
func (h *Handler) UploadFile(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "file is required"})
		return
	}

	name := filepath.Base(file.Filename)
	if name == "." || name == string(filepath.Separator) || !strings.EqualFold(filepath.Ext(name), ".pdf") {
		c.JSON(http.StatusBadRequest, gin.H{"message": "only PDF files are accepted"})
		return
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Internal server error"})
		return
	}
	mt, err := mimetype.DetectReader(src)
	src.Close()
	if err != nil || !mt.Is("application/pdf") {
		c.JSON(http.StatusBadRequest, gin.H{"message": "only PDF files are accepted"})
		return
	}

	dst := filepath.Join(h.docDir, name)
	if err := c.SaveUploadedFile(file, dst); err != nil {
		h.log.Error(fmt.Sprintf("Failed to save upload %s: %v", name, err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Internal server error"})
		return
	}

	h.log.Info(fmt.Sprintf("Stored document %s (%d bytes)", name, file.Size))
	c.JSON(http.StatusOK, gin.H{"message": "File uploaded successfully", "filename": name})
}

// ListFiles returns the PDF files currently in the document directory.
func (h *Handler) ListFiles(c *gin.Context) {
	entries, err := os.ReadDir(h.docDir)
	if err != nil {
		h.log.Error(fmt.Sprintf("Failed to list documents: %v", err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Internal server error"})
		return
	}

	files := make([]gin.H, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".pdf") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, gin.H{
			"filename": entry.Name(),
			"size":     info.Size(),
			"modified": info.ModTime(),
		})
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i]["filename"].(string) < files[j]["filename"].(string)
	})
	c.JSON(http.StatusOK, gin.H{"files": files})
}

// DeleteFile removes a document from the document directory.
func (h *Handler) DeleteFile(c *gin.Context) {
	raw := c.Param("filename")
	name, err := url.PathUnescape(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid filename"})
		return
	}
	// Base strips any traversal components so deletion cannot escape the
	// document directory.
	name = filepath.Base(name)
	if name == "." || name == string(filepath.Separator) {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid filename"})
		return
	}

	if err := os.Remove(filepath.Join(h.docDir, name)); err != nil {
		if os.IsNotExist(err) {
			c.JSON(http.StatusNotFound, gin.H{"message": "File not found"})
			return
		}
		h.log.Error(fmt.Sprintf("Failed to delete %s: %v", name, err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "File deleted successfully", "filename": name})
}

// Restart rebuilds the vector index from the current document directory.
// The rebuild runs synchronously; the previous index keeps serving queries
// until the new one is published.
func (h *Handler) Restart(c *gin.Context) {
	h.log.Info("Index rebuild requested")

	// The rebuild must outlive the request: a client disconnect half way
	// through must not abort a build that is about to be published.
	if err := h.manager.Rebuild(context.Background()); err != nil {
		h.log.Error(fmt.Sprintf("Index rebuild failed: %v", err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Index rebuild failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":   "Index rebuilt successfully",
		"documents": h.manager.Count(),
	})
}

// Health reports the index lifecycle state.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":        "ok",
		"state":         string(h.manager.State()),
		"initialized":   h.manager.Initialized(),
		"documents":     h.manager.Count(),
		"storage_bytes": h.manager.StorageSize(),
	})
}

// TestDBConnection pings the database.
func (h *Handler) TestDBConnection(c *gin.Context) {
	if err := mysql.HealthCheck(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": fmt.Sprintf("Database connection failed: %v", err)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Database connection successful"})
}

// requestUser resolves the authenticated subject to a known user id. A
// token whose subject no longer exists in the users table yields 404.
func (h *Handler) requestUser(c *gin.Context) (uint, bool) {
	subject := c.GetString(ContextKeyUserID)
	id, err := strconv.ParseUint(subject, 10, 64)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"message": "User not found"})
		return 0, false
	}
	user, err := h.users.GetByID(c.Request.Context(), uint(id))
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"message": "User not found"})
			return 0, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Internal server error"})
		return 0, false
	}
	return user.ID, true
}
