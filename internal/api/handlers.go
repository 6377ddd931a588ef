package api

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/veristamp/veristamp/internal/audit"
	"github.com/veristamp/veristamp/internal/model"
	"github.com/veristamp/veristamp/internal/queue"
	"github.com/veristamp/veristamp/internal/repository"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// handleAnalyze accepts a multipart upload, stores the media, creates the
// pending analysis, and dispatches the background job. Oversized payloads
// are rejected while streaming, before any storage write happens.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key := identityFrom(ctx)

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+4096)
	mr, err := r.MultipartReader()
	if err != nil {
		respondError(w, http.StatusBadRequest, "Content-Type must be multipart/form-data")
		return
	}

	var (
		tmp     *tempUpload
		modeRaw string
	)
	defer func() {
		if tmp != nil {
			tmp.cleanup()
		}
	}()
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			respondError(w, http.StatusBadRequest, "failed to read upload")
			return
		}
		switch part.FormName() {
		case "file":
			if tmp == nil {
				tmp, err = s.persistTemp(part)
				part.Close()
				if err != nil {
					respondError(w, http.StatusBadRequest, err.Error())
					return
				}
			} else {
				part.Close()
			}
		case "analysis_type":
			buf, _ := io.ReadAll(io.LimitReader(part, 64))
			modeRaw = strings.TrimSpace(string(buf))
			part.Close()
		default:
			part.Close()
		}
	}
	if tmp == nil {
		respondError(w, http.StatusBadRequest, "file is required")
		return
	}
	mode, ok := model.ParseMode(modeRaw)
	if !ok {
		respondError(w, http.StatusBadRequest, "analysis_type must be one of full, visual_only, audio_only, metadata_only")
		return
	}
	mediaType, contentType, ok := classifyMedia(tmp.sniffedType, tmp.declaredType)
	if !ok {
		respondError(w, http.StatusBadRequest, "unsupported media type; expected image, video, or audio")
		return
	}

	mediaID := uuid.NewString()
	objectKey := fmt.Sprintf("media/%s/%s%s", key.UserID, mediaID, filepath.Ext(tmp.filename))
	if _, err := tmp.f.Seek(0, io.SeekStart); err != nil {
		s.log.Errorw("rewind upload failed", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to store file")
		return
	}
	if err := s.deps.Objects.Upload(ctx, objectKey, tmp.f, tmp.size, contentType); err != nil {
		s.log.Errorw("upload to storage failed", "object_key", objectKey, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to store file")
		return
	}

	media := &model.MediaFile{
		ID:          mediaID,
		UserID:      key.UserID,
		FileName:    tmp.filename,
		FileType:    mediaType,
		FileSize:    tmp.size,
		MimeType:    contentType,
		StoragePath: objectKey,
		Metadata: model.Map{
			"source":     "api",
			"api_key_id": key.ID,
		},
	}
	if err := s.deps.Media.Create(ctx, media); err != nil {
		s.log.Errorw("persist media failed", "media_file_id", mediaID, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to store metadata")
		return
	}

	analysis := &model.Analysis{
		ID:          uuid.NewString(),
		MediaFileID: mediaID,
		UserID:      key.UserID,
		Mode:        mode,
	}
	if err := s.deps.Analyses.Create(ctx, analysis); err != nil {
		s.log.Errorw("persist analysis failed", "media_file_id", mediaID, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to create analysis")
		return
	}

	s.deps.Audit.Record(ctx, key.UserID, audit.ActionAPIAnalysisRequested, "analysis", analysis.ID, model.Map{
		"api_key_id": key.ID,
		"file_name":  tmp.filename,
		"file_size":  tmp.size,
	})

	if err := s.deps.Dispatcher.Dispatch(ctx, queue.AnalyzePayload{
		MediaFileID:  mediaID,
		AnalysisType: string(mode),
	}); err != nil {
		s.log.Errorw("dispatch analysis failed", "analysis_id", analysis.ID, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to queue analysis")
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]any{
		"analysis_id":   analysis.ID,
		"media_file_id": mediaID,
		"status":        model.StatusPending,
	})
}

type statusMediaFile struct {
	ID       string          `json:"id"`
	FileName string          `json:"file_name"`
	FileType model.MediaType `json:"file_type"`
}

type statusResult struct {
	TrustScore        float64            `json:"trust_score"`
	IsAuthentic       bool               `json:"is_authentic"`
	IsManipulated     bool               `json:"is_manipulated"`
	ConfidenceScore   float64            `json:"confidence_score"`
	ManipulationTypes []string           `json:"manipulation_types"`
	ProcessingTimeMS  int64              `json:"processing_time_ms"`
	Indicators        []model.Indicator  `json:"indicators"`
	Certificate       *model.Certificate `json:"certificate"`
}

type statusResponse struct {
	AnalysisID  string               `json:"analysis_id"`
	Status      model.AnalysisStatus `json:"status"`
	MediaFile   statusMediaFile      `json:"media_file"`
	Result      *statusResult        `json:"result"`
	CreatedAt   time.Time            `json:"created_at"`
	CompletedAt *time.Time           `json:"completed_at,omitempty"`
}

// handleStatus returns the analysis with its indicators and certificate,
// scoped to the caller. An analysis owned by someone else is not found,
// never forbidden.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key := identityFrom(ctx)
	id := chi.URLParam(r, "analysis_id")

	a, err := s.deps.Analyses.Get(ctx, id, key.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			respondError(w, http.StatusNotFound, "analysis not found")
			return
		}
		s.log.Errorw("load analysis failed", "analysis_id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := statusResponse{
		AnalysisID:  a.ID,
		Status:      a.Status,
		CreatedAt:   a.CreatedAt,
		CompletedAt: a.CompletedAt,
	}
	if media, err := s.deps.Media.Get(ctx, a.MediaFileID); err == nil {
		resp.MediaFile = statusMediaFile{ID: media.ID, FileName: media.FileName, FileType: media.FileType}
	}
	if a.Status == model.StatusCompleted && a.ConfidenceScore != nil && a.IsAuthentic != nil {
		indicators, err := s.deps.Analyses.Indicators(ctx, a.ID)
		if err != nil {
			s.log.Errorw("load indicators failed", "analysis_id", a.ID, "error", err)
			respondError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		result := &statusResult{
			TrustScore:        *a.TrustScore(),
			IsAuthentic:       *a.IsAuthentic,
			IsManipulated:     !*a.IsAuthentic,
			ConfidenceScore:   *a.ConfidenceScore,
			ManipulationTypes: a.ManipulationTypes,
			Indicators:        indicators,
		}
		if result.ManipulationTypes == nil {
			result.ManipulationTypes = []string{}
		}
		if result.Indicators == nil {
			result.Indicators = []model.Indicator{}
		}
		if a.ProcessingTimeMS != nil {
			result.ProcessingTimeMS = *a.ProcessingTimeMS
		}
		if cert, err := s.deps.Certs.GetByMedia(ctx, a.MediaFileID); err == nil {
			result.Certificate = cert
		} else if !errors.Is(err, repository.ErrNotFound) {
			s.log.Errorw("load certificate failed", "media_file_id", a.MediaFileID, "error", err)
		}
		resp.Result = result
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleList returns the caller's analyses, newest first.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key := identityFrom(ctx)

	limit := parseQueryInt(r, "limit", defaultListLimit)
	offset := parseQueryInt(r, "offset", 0)
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	summaries, err := s.deps.Analyses.List(ctx, key.UserID, limit, offset)
	if err != nil {
		s.log.Errorw("list analyses failed", "error", err)
		respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if summaries == nil {
		summaries = []model.AnalysisSummary{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"analyses": summaries,
		"limit":    limit,
		"offset":   offset,
		"count":    len(summaries),
	})
}

type tempUpload struct {
	f            *os.File
	path         string
	size         int64
	sniffedType  string
	declaredType string
	filename     string
}

func (t *tempUpload) cleanup() {
	t.f.Close()
	os.Remove(t.path)
}

// persistTemp streams one multipart file part to a temp file, enforcing the
// size cap before anything reaches durable storage and sniffing the first
// 512 bytes for content-type detection.
func (s *Server) persistTemp(part *multipart.Part) (*tempUpload, error) {
	tmpFile, err := os.CreateTemp("", "veristamp-upload-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	var sniff []byte
	buf := make([]byte, 32*1024)
	var written int64
	for {
		n, readErr := part.Read(buf)
		if n > 0 {
			written += int64(n)
			if written > s.cfg.MaxUploadBytes {
				tmpFile.Close()
				os.Remove(tmpFile.Name())
				return nil, fmt.Errorf("file size must be less than %d bytes", s.cfg.MaxUploadBytes)
			}
			if len(sniff) < 512 {
				chunk := n
				if remain := 512 - len(sniff); chunk > remain {
					chunk = remain
				}
				sniff = append(sniff, buf[:chunk]...)
			}
			if _, err := tmpFile.Write(buf[:n]); err != nil {
				tmpFile.Close()
				os.Remove(tmpFile.Name())
				return nil, fmt.Errorf("write temp file: %w", err)
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			tmpFile.Close()
			os.Remove(tmpFile.Name())
			return nil, fmt.Errorf("read file: %w", readErr)
		}
	}
	if written == 0 {
		tmpFile.Close()
		os.Remove(tmpFile.Name())
		return nil, errors.New("empty file")
	}
	filename := part.FileName()
	if filename == "" {
		filename = "upload.bin"
	}
	return &tempUpload{
		f:            tmpFile,
		path:         tmpFile.Name(),
		size:         written,
		sniffedType:  http.DetectContentType(sniff),
		declaredType: part.Header.Get("Content-Type"),
		filename:     filename,
	}, nil
}

// classifyMedia maps a MIME type onto a media kind. The sniffed type wins;
// the client-declared type is the fallback for formats the sniffer reports
// as octet-stream (bare mp3 frames, some containers).
func classifyMedia(sniffed, declared string) (model.MediaType, string, bool) {
	for _, ct := range []string{sniffed, declared} {
		switch {
		case ct == "" || strings.HasPrefix(ct, "application/octet-stream"):
			continue
		case strings.HasPrefix(ct, "image/"):
			return model.MediaImage, ct, true
		case strings.HasPrefix(ct, "video/"):
			return model.MediaVideo, ct, true
		case strings.HasPrefix(ct, "audio/"):
			return model.MediaAudio, ct, true
		}
	}
	return "", "", false
}

func parseQueryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return parsed
}
