package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"path"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"jan-server/services/attachments-api/internal/config"
	"jan-server/services/attachments-api/internal/domain/rowfiles"
	"jan-server/services/attachments-api/internal/infrastructure/auth"
	"jan-server/services/attachments-api/internal/interfaces/httpserver/requests"
	"jan-server/services/attachments-api/internal/interfaces/httpserver/responses"
)

const paramAsAttachment = "as_attachment"

// RowFilesService is the domain surface used by RowFilesHandler.
type RowFilesService interface {
	GetManifest(ctx context.Context, caller rowfiles.Caller, scope rowfiles.RowScope) (*rowfiles.Manifest, error)
	Diff(ctx context.Context, caller rowfiles.Caller, scope rowfiles.RowScope, client *rowfiles.Manifest) (rowfiles.DiffResult, error)
	Download(ctx context.Context, caller rowfiles.Caller, scope rowfiles.RowScope, requested *rowfiles.Manifest) (*rowfiles.TransferBatch, error)
	Upload(ctx context.Context, caller rowfiles.Caller, scope rowfiles.RowScope, parts []rowfiles.RawPart) (*rowfiles.TransferBatch, error)
	GetFile(ctx context.Context, caller rowfiles.Caller, scope rowfiles.RowScope, segments []string) (*rowfiles.FileEntry, io.ReadCloser, error)
	PutFile(ctx context.Context, caller rowfiles.Caller, scope rowfiles.RowScope, segments []string, data []byte, contentType string) (*rowfiles.FileEntry, error)
}

// RowFilesHandler exposes the row attachment endpoints.
type RowFilesHandler struct {
	cfg     *config.Config
	service RowFilesService
	log     zerolog.Logger
}

func NewRowFilesHandler(cfg *config.Config, service RowFilesService, log zerolog.Logger) *RowFilesHandler {
	return &RowFilesHandler{
		cfg:     cfg,
		service: service,
		log:     log.With().Str("component", "rowfiles-handler").Logger(),
	}
}

// GetManifest godoc
// @Summary      List row attachments
// @Description  Returns the manifest of files stored for a row.
// @Tags         attachments
// @Produce      json,xml
// @Param        as_attachment  query     bool  false  "Serve as a downloadable file"
// @Success      200            {object}  responses.ManifestResponse
// @Failure      400            {object}  responses.ErrorResponse
// @Failure      403            {object}  responses.ErrorResponse
// @Router       /v1/odktables/{appId}/tables/{tableId}/attachments/{schemaETag}/{rowId}/manifest [get]
func (h *RowFilesHandler) GetManifest(c *gin.Context) {
	scope := scopeFromParams(c)
	manifest, err := h.service.GetManifest(c.Request.Context(), auth.CallerFrom(c), scope)
	if err != nil {
		responses.HandleError(c, h.log, err, "failed to build manifest")
		return
	}

	urls := responses.NewFileURLBuilder(h.baseURL(c), scope)
	if asAttachment(c) {
		c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": "manifest.json"}))
	}
	responses.Negotiate(c, http.StatusOK, responses.NewManifestResponse(manifest, &urls))
}

// Diff godoc
// @Summary      Plan a row synchronization
// @Description  Compares the client manifest with the server and lists files each side lacks.
// @Tags         attachments
// @Accept       json,xml
// @Produce      json,xml
// @Param        request  body      requests.FileManifest  true  "Client manifest"
// @Success      200      {object}  responses.DiffResponse
// @Failure      400      {object}  responses.ErrorResponse
// @Router       /v1/odktables/{appId}/tables/{tableId}/attachments/{schemaETag}/{rowId}/diff [post]
func (h *RowFilesHandler) Diff(c *gin.Context) {
	scope := scopeFromParams(c)
	req, err := bindManifest(c)
	if err != nil {
		responses.HandleError(c, h.log, err, "invalid manifest")
		return
	}

	result, err := h.service.Diff(c.Request.Context(), auth.CallerFrom(c), scope, req.ToDomain(scope))
	if err != nil {
		responses.HandleError(c, h.log, err, "failed to diff manifest")
		return
	}

	urls := responses.NewFileURLBuilder(h.baseURL(c), scope)
	responses.Negotiate(c, http.StatusOK, responses.NewDiffResponse(result, &urls))
}

// Download godoc
// @Summary      Bulk download row attachments
// @Description  Returns the requested files as multipart/form-data. Files the client already holds are skipped.
// @Tags         attachments
// @Accept       json,xml
// @Produce      multipart/form-data
// @Param        request  body  requests.FileManifest  true  "Files to download"
// @Success      200
// @Success      204
// @Failure      400      {object}  responses.ErrorResponse
// @Failure      404      {object}  responses.ErrorResponse
// @Router       /v1/odktables/{appId}/tables/{tableId}/attachments/{schemaETag}/{rowId}/download [post]
func (h *RowFilesHandler) Download(c *gin.Context) {
	scope := scopeFromParams(c)
	req, err := bindManifest(c)
	if err != nil {
		responses.HandleError(c, h.log, err, "invalid manifest")
		return
	}

	batch, err := h.service.Download(c.Request.Context(), auth.CallerFrom(c), scope, req.ToDomain(scope))
	if errors.Is(err, rowfiles.ErrNothingToSend) {
		c.Status(http.StatusNoContent)
		return
	}
	if err != nil {
		responses.HandleError(c, h.log, err, "failed to assemble download")
		return
	}

	mw := multipart.NewWriter(c.Writer)
	c.Header("Content-Type", mw.FormDataContentType())
	c.Status(http.StatusOK)

	for _, part := range batch.Parts {
		if err := writeFilePart(mw, scope, part); err != nil {
			h.log.Error().Err(err).Str("path", part.Entry.Path).Msg("download aborted while streaming")
			return
		}
	}
	if err := mw.Close(); err != nil {
		h.log.Error().Err(err).Msg("failed to finish multipart download")
	}
}

// Upload godoc
// @Summary      Bulk upload row attachments
// @Description  Stores every file part of a multipart/form-data body. Part filenames are app-rooted paths. All or nothing.
// @Tags         attachments
// @Accept       multipart/form-data
// @Produce      json,xml
// @Success      201  {object}  responses.UploadResponse
// @Failure      400  {object}  responses.ErrorResponse
// @Failure      503  {object}  responses.ErrorResponse
// @Router       /v1/odktables/{appId}/tables/{tableId}/attachments/{schemaETag}/{rowId}/upload [post]
func (h *RowFilesHandler) Upload(c *gin.Context) {
	scope := scopeFromParams(c)
	parts, err := readParts(c, h.cfg.MaxFileBytes)
	if err != nil {
		responses.HandleError(c, h.log, err, "failed to read multipart body")
		return
	}

	batch, err := h.service.Upload(c.Request.Context(), auth.CallerFrom(c), scope, parts)
	if err != nil {
		responses.HandleError(c, h.log, err, "failed to store uploaded files")
		return
	}
	responses.Negotiate(c, http.StatusCreated, responses.NewUploadResponse(batch))
}

// GetFile godoc
// @Summary      Download one row attachment
// @Tags         attachments
// @Produce      octet-stream
// @Param        as_attachment    query  bool  false  "Serve as a downloadable file"
// @Param        reduceImageSize  query  bool  false  "Accepted for compatibility; ignored"
// @Success      200
// @Failure      400  {object}  responses.ErrorResponse
// @Failure      404  {object}  responses.ErrorResponse
// @Router       /v1/odktables/{appId}/tables/{tableId}/attachments/{schemaETag}/{rowId}/file/{filePath} [get]
func (h *RowFilesHandler) GetFile(c *gin.Context) {
	scope := scopeFromParams(c)
	segments := rowfiles.SplitPath(c.Param("filePath"))

	if c.Query("reduceImageSize") != "" {
		h.log.Debug().Msg("reduceImageSize requested; serving original bytes")
	}

	entry, reader, err := h.service.GetFile(c.Request.Context(), auth.CallerFrom(c), scope, segments)
	if err != nil {
		responses.HandleError(c, h.log, err, "failed to read file")
		return
	}
	defer reader.Close()

	headers := map[string]string{
		"ETag": strconv.Quote(entry.ContentHash),
	}
	if !entry.LastModified.IsZero() {
		headers["Last-Modified"] = entry.LastModified.UTC().Format(http.TimeFormat)
	}
	if asAttachment(c) {
		headers["Content-Disposition"] = mime.FormatMediaType("attachment", map[string]string{"filename": path.Base(entry.Path)})
	}
	c.DataFromReader(http.StatusOK, entry.ContentLength, entry.ContentType, reader, headers)
}

// PutFile godoc
// @Summary      Upload one row attachment
// @Tags         attachments
// @Accept       */*
// @Produce      json,xml
// @Success      201  {object}  responses.FileEntryResponse
// @Failure      400  {object}  responses.ErrorResponse
// @Failure      503  {object}  responses.ErrorResponse
// @Router       /v1/odktables/{appId}/tables/{tableId}/attachments/{schemaETag}/{rowId}/file/{filePath} [post]
func (h *RowFilesHandler) PutFile(c *gin.Context) {
	scope := scopeFromParams(c)
	segments := rowfiles.SplitPath(c.Param("filePath"))

	data, err := io.ReadAll(io.LimitReader(c.Request.Body, h.cfg.MaxFileBytes+1))
	if err != nil {
		responses.HandleError(c, h.log, rowfiles.MultipartParseError(c.Request.Context(), err), "failed to read body")
		return
	}

	entry, err := h.service.PutFile(c.Request.Context(), auth.CallerFrom(c), scope, segments, data, c.GetHeader("Content-Type"))
	if err != nil {
		responses.HandleError(c, h.log, err, "failed to store file")
		return
	}

	urls := responses.NewFileURLBuilder(h.baseURL(c), scope)
	responses.Negotiate(c, http.StatusCreated, responses.NewFileEntryResponse(*entry, &urls))
}

func (h *RowFilesHandler) baseURL(c *gin.Context) string {
	if h.cfg.APIURL != "" {
		return h.cfg.APIURL
	}
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	if proto := c.GetHeader("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + c.Request.Host
}

func scopeFromParams(c *gin.Context) rowfiles.RowScope {
	return rowfiles.NewRowScope(c.Param("appId"), c.Param("tableId"), c.Param("schemaETag"), c.Param("rowId"))
}

func asAttachment(c *gin.Context) bool {
	v, err := strconv.ParseBool(c.Query(paramAsAttachment))
	return err == nil && v
}

// bindManifest decodes a JSON or XML manifest. An empty body is an empty manifest.
func bindManifest(c *gin.Context) (*requests.FileManifest, error) {
	var req requests.FileManifest
	var err error
	switch c.ContentType() {
	case gin.MIMEXML, gin.MIMEXML2:
		err = c.ShouldBindXML(&req)
	default:
		err = c.ShouldBindJSON(&req)
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, rowfiles.InvalidManifestError(c.Request.Context(), err)
	}
	return &req, nil
}

// readParts parses a multipart body into raw parts. Part data beyond maxBytes
// is not read; the domain rejects the oversized part.
func readParts(c *gin.Context, maxBytes int64) ([]rowfiles.RawPart, error) {
	ctx := c.Request.Context()
	reader, err := c.Request.MultipartReader()
	if err != nil {
		return nil, rowfiles.MultipartExpectedError(ctx)
	}

	var parts []rowfiles.RawPart
	for index := 0; ; index++ {
		if err := ctx.Err(); err != nil {
			return nil, rowfiles.MultipartParseError(ctx, err)
		}
		part, err := reader.NextRawPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, rowfiles.MultipartParseError(ctx, err)
		}

		raw, err := readPart(part, index, maxBytes)
		_ = part.Close()
		if err != nil {
			return nil, rowfiles.MultipartParseError(ctx, err)
		}
		parts = append(parts, raw)
	}
	return parts, nil
}

// readPart keeps the disposition filename verbatim; multipart.Part.FileName
// would reduce it to its base name.
func readPart(part *multipart.Part, index int, maxBytes int64) (rowfiles.RawPart, error) {
	raw := rowfiles.RawPart{
		Index:       index,
		ContentType: part.Header.Get("Content-Type"),
	}
	if disposition := part.Header.Get("Content-Disposition"); disposition != "" {
		if _, params, err := mime.ParseMediaType(disposition); err == nil {
			raw.FormName = params["name"]
			raw.FileName = params["filename"]
		}
	}

	limit := maxBytes + 1
	if maxBytes <= 0 {
		limit = 1<<63 - 1
	}
	data, err := io.ReadAll(io.LimitReader(part, limit))
	if err != nil {
		return raw, err
	}
	raw.Data = data
	return raw, nil
}

func writeFilePart(mw *multipart.Writer, scope rowfiles.RowScope, part rowfiles.TransferPart) error {
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", mime.FormatMediaType("form-data", map[string]string{
		"name":     "file",
		"filename": rowfiles.WirePath(scope.AppID, part.Entry.Path),
	}))
	header.Set("Content-Type", part.Entry.ContentType)
	header.Set("Content-Length", strconv.FormatInt(int64(len(part.Data)), 10))
	header.Set("X-Content-Hash", part.Entry.ContentHash)

	w, err := mw.CreatePart(header)
	if err != nil {
		return fmt.Errorf("create part: %w", err)
	}
	_, err = w.Write(part.Data)
	return err
}
