package handler

import (
	"errors"
	"net/http"
	"strconv"

	"backend/internal/core"
	"backend/internal/middleware"
	"backend/internal/websocket"
	"backend/pkg/pagination"
	"backend/pkg/response"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// ModelHandler serves every registered model through one generic CRUD
// surface; per-model behavior comes from the model definitions, not from
// per-model endpoints.
type ModelHandler struct {
	db  *gorm.DB
	hub *websocket.Hub
}

// NewModelHandler sets up the routing dependencies for the generic endpoints
func NewModelHandler(db *gorm.DB, hub *websocket.Hub) *ModelHandler {
	return &ModelHandler{db: db, hub: hub}
}

// RegisterRoutes binds the endpoints to the gin Engine or RouterGroup
func (h *ModelHandler) RegisterRoutes(router *gin.RouterGroup) {
	authed := router.Group("", middleware.Authenticate())

	authed.GET("/models", h.ListModels)

	meta := authed.Group("/meta")
	{
		meta.GET("/:model", h.GetMetadata)
		meta.POST("/:model/evaluate", h.EvaluateMetadata)
	}

	records := authed.Group("/records")
	{
		records.GET("/:model", h.ListRecords)
		records.GET("/:model/:id", h.GetRecord)
		records.GET("/:model/:id/audit", h.GetAuditLogs)
		records.POST("/:model", h.CreateRecord)
		records.POST("/:model/bulk-delete", h.BulkDelete)
		records.PUT("/:model/:id", h.UpdateRecord)
		records.DELETE("/:model/:id", h.DeleteRecord)
	}
}

func (h *ModelHandler) env(c *gin.Context) *core.Environment {
	user := middleware.CurrentUser(c)
	return core.NewEnvironment(h.db, user.ID, user)
}

// lookupModel resolves the :model path param against the registry.
func lookupModel(c *gin.Context) (*core.Model, bool) {
	m, ok := core.GetModel(c.Param("model"))
	if !ok {
		c.JSON(http.StatusNotFound, response.Error(http.StatusNotFound, "Model not found"))
		return nil, false
	}
	return m, true
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid record id"))
		return 0, false
	}
	return id, true
}

func abortWith(c *gin.Context, err error) {
	status := core.HTTPStatus(err)
	var vErr *core.ValidationError
	if errors.As(err, &vErr) {
		c.JSON(status, response.ValidationFailed(status, vErr.Message, vErr.FieldErrors))
		return
	}
	c.JSON(status, response.Error(status, err.Error()))
}

// ListModels returns the registered model names with their descriptions
func (h *ModelHandler) ListModels(c *gin.Context) {
	names := core.ListModels()
	out := make([]gin.H, 0, len(names))
	for _, name := range names {
		m, _ := core.GetModel(name)
		out = append(out, gin.H{
			"name":        m.Name,
			"description": m.Description,
			"transient":   m.Transient,
		})
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, out))
}

// GetMetadata returns the model's UI metadata dict
func (h *ModelHandler) GetMetadata(c *gin.Context) {
	m, ok := lookupModel(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, m.UIMetadata()))
}

type evaluateRequest struct {
	Record map[string]any `json:"record"`
}

// EvaluateMetadata resolves the model's dynamic modifiers against a record
// context supplied by the client form
func (h *ModelHandler) EvaluateMetadata(c *gin.Context) {
	m, ok := lookupModel(c)
	if !ok {
		return
	}
	var req evaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload"))
		return
	}
	user := middleware.CurrentUser(c)
	c.JSON(http.StatusOK, response.Success(http.StatusOK, m.MetadataWithContext(req.Record, user)))
}

// ListRecords lists a page of records after the policy row filter, an
// optional client domain, and an optional named filter
func (h *ModelHandler) ListRecords(c *gin.Context) {
	m, ok := lookupModel(c)
	if !ok {
		return
	}
	user := middleware.CurrentUser(c)

	// A many2one picker may read the related model without full read access;
	// the carve-out only applies when the caller names the parent model.
	env := h.env(c)
	if parent := c.Query("parent_model"); parent != "" {
		env = env.WithContext(core.CtxMany2oneRelation, true).
			WithContext(core.CtxParentModel, parent)
	}
	if !core.CanAccess(user, m.Name, "read", env.Context) {
		c.JSON(http.StatusForbidden, response.Error(http.StatusForbidden, "Permission denied"))
		return
	}

	rs, err := env.Model(m.Name)
	if err != nil {
		abortWith(c, err)
		return
	}
	params := pagination.Parse(c)
	page, total, err := rs.List(core.ListOptions{
		Domain: c.Query("domain"),
		Filter: c.Query("filter"),
		Order:  c.Query("order"),
		Limit:  params.Limit,
		Offset: params.Offset,
	})
	if err != nil {
		abortWith(c, err)
		return
	}

	items := make([]map[string]any, 0, page.Len())
	for _, rec := range page.Records() {
		dict, err := rec.ToDict(&core.DictOptions{User: user})
		if err != nil {
			abortWith(c, err)
			return
		}
		items = append(items, dict)
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{
		"items":      items,
		"pagination": params.NewMeta(total),
	}))
}

// GetRecord returns one record; ?include_domain_states=true attaches the
// per-field visible/readonly/required evaluation
func (h *ModelHandler) GetRecord(c *gin.Context) {
	m, ok := lookupModel(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	user := middleware.CurrentUser(c)
	if !core.CanAccess(user, m.Name, "read", nil) {
		c.JSON(http.StatusForbidden, response.Error(http.StatusForbidden, "Permission denied"))
		return
	}

	rec, err := h.fetchVisible(c, m, id)
	if err != nil {
		abortWith(c, err)
		return
	}
	if rec == nil {
		c.JSON(http.StatusNotFound, response.Error(http.StatusNotFound, "Record not found"))
		return
	}

	dict, err := rec.ToDict(&core.DictOptions{
		User:                user,
		IncludeDomainStates: c.Query("include_domain_states") == "true",
	})
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, dict))
}

// CreateRecord creates one record from the posted value map
func (h *ModelHandler) CreateRecord(c *gin.Context) {
	m, ok := lookupModel(c)
	if !ok {
		return
	}
	user := middleware.CurrentUser(c)
	if !core.CanAccess(user, m.Name, "create", nil) {
		c.JSON(http.StatusForbidden, response.Error(http.StatusForbidden, "Permission denied"))
		return
	}

	var values map[string]any
	if err := c.ShouldBindJSON(&values); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload"))
		return
	}

	rs, err := h.env(c).Model(m.Name)
	if err != nil {
		abortWith(c, err)
		return
	}
	rec, err := rs.Create(values)
	if err != nil {
		abortWith(c, err)
		return
	}
	h.hub.PublishRecordEvent(m.Name, rec.ID(), "create")

	dict, err := rec.ToDict(&core.DictOptions{User: user})
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, dict))
}

// UpdateRecord applies the posted value map to one record
func (h *ModelHandler) UpdateRecord(c *gin.Context) {
	m, ok := lookupModel(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	user := middleware.CurrentUser(c)
	if !core.CanAccess(user, m.Name, "write", nil) {
		c.JSON(http.StatusForbidden, response.Error(http.StatusForbidden, "Permission denied"))
		return
	}

	var values map[string]any
	if err := c.ShouldBindJSON(&values); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload"))
		return
	}

	rec, err := h.fetchVisible(c, m, id)
	if err != nil {
		abortWith(c, err)
		return
	}
	if rec == nil {
		c.JSON(http.StatusNotFound, response.Error(http.StatusNotFound, "Record not found"))
		return
	}
	if err := rec.Write(values); err != nil {
		abortWith(c, err)
		return
	}
	h.hub.PublishRecordEvent(m.Name, rec.ID(), "write")

	dict, err := rec.ToDict(&core.DictOptions{User: user})
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, dict))
}

// DeleteRecord removes one record
func (h *ModelHandler) DeleteRecord(c *gin.Context) {
	m, ok := lookupModel(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	user := middleware.CurrentUser(c)
	if !core.CanAccess(user, m.Name, "delete", nil) {
		c.JSON(http.StatusForbidden, response.Error(http.StatusForbidden, "Permission denied"))
		return
	}

	rec, err := h.fetchVisible(c, m, id)
	if err != nil {
		abortWith(c, err)
		return
	}
	if rec == nil {
		c.JSON(http.StatusNotFound, response.Error(http.StatusNotFound, "Record not found"))
		return
	}
	if err := rec.Unlink(); err != nil {
		abortWith(c, err)
		return
	}
	h.hub.PublishRecordEvent(m.Name, id, "unlink")
	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"deleted": id}))
}

type bulkDeleteRequest struct {
	IDs []int64 `json:"ids" binding:"required"`
}

// BulkDelete removes a batch of records, reporting per-id failures without
// aborting the rest of the batch
func (h *ModelHandler) BulkDelete(c *gin.Context) {
	m, ok := lookupModel(c)
	if !ok {
		return
	}
	user := middleware.CurrentUser(c)
	if !core.CanAccess(user, m.Name, "delete", nil) {
		c.JSON(http.StatusForbidden, response.Error(http.StatusForbidden, "Permission denied"))
		return
	}

	var req bulkDeleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload"))
		return
	}

	deleted := make([]int64, 0, len(req.IDs))
	failed := map[string]string{}
	for _, id := range req.IDs {
		rec, err := h.fetchVisible(c, m, id)
		if err != nil {
			failed[strconv.FormatInt(id, 10)] = err.Error()
			continue
		}
		if rec == nil {
			failed[strconv.FormatInt(id, 10)] = "not found"
			continue
		}
		if err := rec.Unlink(); err != nil {
			failed[strconv.FormatInt(id, 10)] = err.Error()
			continue
		}
		h.hub.PublishRecordEvent(m.Name, id, "unlink")
		deleted = append(deleted, id)
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{
		"deleted": deleted,
		"failed":  failed,
	}))
}

// GetAuditLogs returns the audit trail of one record
func (h *ModelHandler) GetAuditLogs(c *gin.Context) {
	m, ok := lookupModel(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	user := middleware.CurrentUser(c)
	if !core.CanAccess(user, m.Name, "read", nil) {
		c.JSON(http.StatusForbidden, response.Error(http.StatusForbidden, "Permission denied"))
		return
	}

	params := pagination.Parse(c)
	var logs []core.AuditLog
	err := h.db.Where("res_model = ? AND res_id = ?", m.Name, id).
		Order("changed_at desc").
		Offset(params.Offset).Limit(params.Limit).
		Find(&logs).Error
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, logs))
}

// fetchVisible loads a record through the acting user's row filter, so a
// record outside the filter reads as absent rather than forbidden.
func (h *ModelHandler) fetchVisible(c *gin.Context, m *core.Model, id int64) (*core.Record, error) {
	rs, err := h.env(c).Model(m.Name)
	if err != nil {
		return nil, err
	}
	visible, _, err := rs.List(core.ListOptions{
		Domain: "[('id', '=', " + strconv.FormatInt(id, 10) + ")]",
		Limit:  1,
	})
	if err != nil {
		return nil, err
	}
	if !visible.Exists() {
		return nil, nil
	}
	return visible.Records()[0], nil
}
