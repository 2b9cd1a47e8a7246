package media

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"

	"wagateway/internal/constants"
	"wagateway/internal/metrics"
	"wagateway/internal/privacy"
	"wagateway/pkg/whatsapp/types"

	"github.com/sirupsen/logrus"
)

// Downloader is the content-fetch primitive of the protocol client.
type Downloader interface {
	DownloadMedia(ctx context.Context, media *types.MediaMessage, kind types.MediaKind) (io.ReadCloser, error)
}

// Result holds base64 payloads for inlined media and the ids that could not
// be downloaded.
type Result struct {
	Media  map[string]string
	Failed []string
}

func (r Result) Empty() bool {
	return len(r.Media) == 0 && len(r.Failed) == 0
}

type Extractor struct {
	storage    *Storage
	transcoder Transcoder
	logger     *logrus.Logger
}

// NewExtractor builds an extractor. A nil transcoder forwards audio unchanged.
func NewExtractor(storage *Storage, transcoder Transcoder, logger *logrus.Logger) *Extractor {
	return &Extractor{storage: storage, transcoder: transcoder, logger: logger}
}

// Extract downloads the media of each message, stores it by message id and
// returns base64 payloads for entries that were inlined, either because
// includeMedia is set or because storing failed. Audio mimetypes on the
// messages are rewritten when audio is transcoded.
func (e *Extractor) Extract(ctx context.Context, dl Downloader, messages []*types.WebMessageInfo, includeMedia bool) Result {
	result := Result{Media: make(map[string]string)}

	for _, msg := range messages {
		if msg == nil || msg.Key.ID == "" || msg.Message == nil {
			continue
		}
		media, kind, ok := Resolve(msg.Message)
		if !ok {
			continue
		}

		logger := e.logger.WithFields(logrus.Fields{
			constants.LogFieldMessageID: privacy.MaskMessageID(msg.Key.ID),
			constants.LogFieldMediaType: string(kind),
		})

		data, err := download(ctx, dl, media, kind)
		if err != nil {
			metrics.IncrementCounter(metrics.MediaDownloadFailures, map[string]string{"kind": string(kind)})
			logger.WithError(err).Error("Failed to download media")
			result.Failed = append(result.Failed, msg.Key.ID)
			continue
		}
		metrics.IncrementCounter(metrics.MediaDownloads, map[string]string{"kind": string(kind)})

		if msg.Message.AudioMessage != nil && e.transcoder != nil {
			converted, err := e.transcoder.Transcode(ctx, data)
			if err != nil {
				logger.WithError(err).Warn("Failed to transcode audio, forwarding original")
			} else {
				data = converted
				msg.Message.AudioMessage.Mimetype = e.transcoder.Mimetype()
			}
		}

		inline := includeMedia
		if err := e.storage.Save(msg.Key.ID, data); err != nil {
			logger.WithError(err).Error("Failed to write media file")
			inline = true
		}
		if inline {
			result.Media[msg.Key.ID] = base64.StdEncoding.EncodeToString(data)
		}

		logger.WithField(constants.LogFieldSize, len(data)).Debug("Media extracted")
	}

	return result
}

func download(ctx context.Context, dl Downloader, media *types.MediaMessage, kind types.MediaKind) ([]byte, error) {
	stream, err := dl.DownloadMedia(ctx, media, kind)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	data, err := io.ReadAll(stream)
	if err != nil {
		return nil, fmt.Errorf("failed to read media stream: %w", err)
	}
	return data, nil
}
