// Package jobs contains the consumer-side handlers bound to the job queues.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sync/errgroup"

	"filecrate/internal/queue"
	"filecrate/internal/storage"
)

// ThumbnailWidths are the target widths generated for every uploaded image.
var ThumbnailWidths = []int{500, 250, 100}

// ThumbnailHandler resizes an uploaded file to the fixed target widths and
// writes each artifact beside the original as <localPath>_<width>.
type ThumbnailHandler struct {
	files   storage.FileStore
	resizer Resizer
	logger  *slog.Logger
}

// NewThumbnailHandler constructs the handler for the thumbnail-generation
// queue.
func NewThumbnailHandler(files storage.FileStore, resizer Resizer, logger *slog.Logger) *ThumbnailHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ThumbnailHandler{files: files, resizer: resizer, logger: logger}
}

// Handle processes one thumbnail job. All widths must succeed for the job to
// succeed; any failure fails the whole job and every width is re-attempted
// on retry.
func (h *ThumbnailHandler) Handle(ctx context.Context, job queue.Job) error {
	fileID := job.Payload["fileId"]
	userID := job.Payload["userId"]
	if fileID == "" || userID == "" {
		return queue.NonRetryable(fmt.Errorf("thumbnail payload requires fileId and userId"))
	}

	record, ok, err := h.files.FindFileByIDAndOwner(ctx, fileID, userID)
	if err != nil {
		return fmt.Errorf("load file %s: %w", fileID, err)
	}
	if !ok {
		return fmt.Errorf("file %s for user %s: %w", fileID, userID, storage.ErrNotFound)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	for _, width := range ThumbnailWidths {
		width := width
		group.Go(func() error {
			data, err := h.resizer.Resize(groupCtx, record.LocalPath, width)
			if err != nil {
				return fmt.Errorf("resize to width %d: %w", width, err)
			}
			target := fmt.Sprintf("%s_%d", record.LocalPath, width)
			if err := os.WriteFile(target, data, 0o644); err != nil {
				return fmt.Errorf("write thumbnail %s: %w", target, err)
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}

	h.logger.Info("thumbnails generated",
		"job_id", job.ID,
		"file_id", record.ID,
		"widths", len(ThumbnailWidths),
	)
	return nil
}
