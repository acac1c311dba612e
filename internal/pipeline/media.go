package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"path"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"analysis-pipeline/internal/collab"
	"analysis-pipeline/internal/entity"
)

const (
	defaultFramesPerVideo  = 5
	defaultAudioMaxSeconds = 180
)

type MediaOptions struct {
	FramesPerVideo  int
	AudioMaxSeconds int
}

// MediaStage extracts frames and transcripts from newly captured videos.
type MediaStage struct {
	resources   ResourceStore
	frames      collab.FrameExtractor
	transcriber collab.Transcriber
	storage     collab.Storage
	opts        MediaOptions
	log         zerolog.Logger
}

func NewMediaStage(resources ResourceStore, frames collab.FrameExtractor, transcriber collab.Transcriber, storage collab.Storage, opts MediaOptions, log zerolog.Logger) *MediaStage {
	if opts.FramesPerVideo <= 0 {
		opts.FramesPerVideo = defaultFramesPerVideo
	}
	if opts.AudioMaxSeconds <= 0 {
		opts.AudioMaxSeconds = defaultAudioMaxSeconds
	}
	return &MediaStage{
		resources:   resources,
		frames:      frames,
		transcriber: transcriber,
		storage:     storage,
		opts:        opts,
		log:         log.With().Str("component", "media").Logger(),
	}
}

type audioTask struct {
	resource int
	mediaID  uuid.UUID
	video    []byte
}

// ExtractMedia works on slow-path videos only; fast-path resources keep the
// durable media already on file. Frames and transcripts are appended to the
// passed resources in place. onTranscribe runs once before the first
// transcription so the caller can mark the stage boundary.
func (s *MediaStage) ExtractMedia(ctx context.Context, job *entity.Job, resources []entity.Resource, cache *ByteCache, fastPath map[uuid.UUID]struct{}, onTranscribe func(context.Context) error) error {
	log := s.log.With().Str("job_id", job.ID.String()).Logger()
	var audio []audioTask

	for i := range resources {
		r := &resources[i]
		if _, fast := fastPath[r.ID]; fast {
			continue
		}
		for _, item := range cache.Get(r.ID) {
			if item.Type != entity.MediaVideo {
				continue
			}
			if s.frames == nil {
				continue
			}
			if err := s.extractFrames(ctx, job, r, item, cache); err != nil {
				return err
			}
			audio = append(audio, audioTask{resource: i, mediaID: item.MediaID, video: item.Data})
		}
	}

	if len(audio) == 0 || s.transcriber == nil {
		return nil
	}
	if onTranscribe != nil {
		if err := onTranscribe(ctx); err != nil {
			return err
		}
	}
	for _, task := range audio {
		text, err := s.transcribe(ctx, task.video)
		if err != nil {
			log.Warn().Err(err).Str("media_id", task.mediaID.String()).Msg("transcription failed, continuing without transcript")
			continue
		}
		if err := s.resources.SetTranscript(ctx, task.mediaID, text); err != nil {
			log.Warn().Err(err).Str("media_id", task.mediaID.String()).Msg("persist transcript failed")
			continue
		}
		r := &resources[task.resource]
		for j := range r.Media {
			if r.Media[j].ID == task.mediaID {
				r.Media[j].Transcript = text
			}
		}
	}
	return nil
}

func (s *MediaStage) extractFrames(ctx context.Context, job *entity.Job, r *entity.Resource, video CachedMedia, cache *ByteCache) error {
	frames, err := s.frames.ExtractFrames(ctx, video.Data, s.opts.FramesPerVideo)
	if err != nil {
		return eris.Wrapf(err, "extract frames for resource %s", r.ID)
	}

	accepted := 0
	for fi, frame := range frames {
		if !ValidImage(frame) {
			s.log.Warn().
				Str("job_id", job.ID.String()).
				Str("resource_id", r.ID.String()).
				Int("frame", fi).
				Msg("rejecting invalid frame")
			continue
		}
		contentType := http.DetectContentType(frame)
		m := entity.Media{
			ResourceID: r.ID,
			Type:       entity.MediaVideoFrame,
			SourceURL:  video.SourceURL,
			VideoIndex: video.VideoIndex,
			FrameIndex: fi,
		}
		if s.storage != nil {
			key := path.Join("resources", r.ID.String(), "frames", fmt.Sprintf("v%d_f%02d%s", video.VideoIndex, fi, extension(contentType, m.Type)))
			url, err := s.storage.Upload(ctx, frame, key, contentType)
			if err != nil {
				s.log.Warn().Err(err).Str("key", key).Msg("frame upload failed")
			} else {
				m.StorageURL = url
				m.Uploaded = true
			}
		}
		if err := s.resources.AddMedia(ctx, &m); err != nil {
			return eris.Wrap(err, "add frame media")
		}
		r.Media = append(r.Media, m)
		cache.Put(r.ID, CachedMedia{
			MediaID:     m.ID,
			Type:        m.Type,
			SourceURL:   m.SourceURL,
			ContentType: contentType,
			VideoIndex:  m.VideoIndex,
			Data:        frame,
		})
		accepted++
	}
	s.log.Debug().
		Str("job_id", job.ID.String()).
		Str("resource_id", r.ID.String()).
		Int("video_index", video.VideoIndex).
		Int("frames", accepted).
		Msg("frames extracted")
	return nil
}

func (s *MediaStage) transcribe(ctx context.Context, video []byte) (string, error) {
	audio, err := s.frames.ExtractAudio(ctx, video, s.opts.AudioMaxSeconds)
	if err != nil {
		return "", fmt.Errorf("extract audio: %w", err)
	}
	return s.transcriber.Transcribe(ctx, audio)
}

// ValidImage reports whether data decodes as a non-empty image header.
func ValidImage(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return false
	}
	return cfg.Width > 0 && cfg.Height > 0
}
