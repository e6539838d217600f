package writer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"

	appconfig "depthflow/config"
	"depthflow/logger"
	"depthflow/market"
	"depthflow/metrics"
)

// objectPutter is the part of the S3 client the writer uses.
type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// MetricsWriter buffers emitted records per instrument and writes each
// buffer as one parquet file, to S3 when storage.s3 is enabled and to
// writer.output_dir otherwise. A buffer is flushed when it reaches
// writer.buffer.max_size, on every flush interval while started, and on
// Flush or Stop.
type MetricsWriter struct {
	cfg      *appconfig.Config
	mask     metrics.Mask
	codec    parquet.CompressionCodec
	s3Client objectPutter
	now      func() time.Time

	buffer      map[market.Key][]metrics.Entry
	files       []string
	mu          sync.Mutex
	flushTicker *time.Ticker
	done        chan struct{}
	writeErr    error
	ctx         context.Context
	wg          *sync.WaitGroup
	running     bool
	log         *logger.Log
}

// NewMetricsWriter builds a writer for records carrying mask.
func NewMetricsWriter(cfg *appconfig.Config, mask metrics.Mask) (*MetricsWriter, error) {
	w, err := newMetricsWriter(cfg, mask)
	if err != nil {
		return nil, err
	}
	if cfg.Storage.S3.Enabled {
		client, err := newS3Client(context.Background(), cfg)
		if err != nil {
			return nil, err
		}
		w.s3Client = client
	}
	return w, nil
}

func newMetricsWriter(cfg *appconfig.Config, mask metrics.Mask) (*MetricsWriter, error) {
	if mask.IsZero() {
		return nil, errors.New("metrics writer needs at least one variable")
	}
	codec, err := compressionCodec(cfg.Writer.Compression)
	if err != nil {
		return nil, err
	}
	return &MetricsWriter{
		cfg:    cfg,
		mask:   mask,
		codec:  codec,
		now:    time.Now,
		buffer: make(map[market.Key][]metrics.Entry),
		wg:     &sync.WaitGroup{},
		ctx:    context.Background(),
		log:    logger.GetLogger(),
	}, nil
}

func newS3Client(ctx context.Context, cfg *appconfig.Config) (*s3.Client, error) {
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Storage.S3.Region)}
	if cfg.Storage.S3.AccessKeyID != "" && cfg.Storage.S3.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.Storage.S3.AccessKeyID,
				cfg.Storage.S3.SecretAccessKey,
				"",
			)))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Storage.S3.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.S3.Endpoint)
		}
		o.UsePathStyle = cfg.Storage.S3.PathStyle
	}), nil
}

// Start consumes in until it is closed or ctx is done. Buffers are also
// flushed every writer.buffer.flush_interval until Stop.
func (w *MetricsWriter) Start(ctx context.Context, in <-chan metrics.Entry) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("metrics writer already running")
	}
	w.running = true
	w.ctx = ctx
	w.done = make(chan struct{})
	w.writeErr = nil
	if interval := w.cfg.Writer.Buffer.FlushInterval; interval > 0 {
		w.flushTicker = time.NewTicker(interval)
	}
	w.mu.Unlock()

	w.wg.Add(1)
	go w.worker(in)

	if w.flushTicker != nil {
		w.wg.Add(1)
		go w.flushLoop()
	}

	w.log.WithComponent("metrics_writer").Info("metrics writer started")
	return nil
}

// Stop waits for the consumer to drain its channel, flushes what is left and
// returns the first write error seen while running.
func (w *MetricsWriter) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return w.Flush()
	}
	w.running = false
	close(w.done)
	w.mu.Unlock()

	w.wg.Wait()
	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}
	err := errors.Join(w.writeErr, w.Flush())
	w.log.WithComponent("metrics_writer").Info("metrics writer stopped")
	return err
}

func (w *MetricsWriter) worker(in <-chan metrics.Entry) {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case e, ok := <-in:
			if !ok {
				return
			}
			if err := w.Write(e); err != nil {
				w.log.WithComponent("metrics_writer").WithError(err).Error("write failed")
				w.mu.Lock()
				if w.writeErr == nil {
					w.writeErr = err
				}
				w.mu.Unlock()
			}
		}
	}
}

func (w *MetricsWriter) flushLoop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.done:
			return
		case <-w.flushTicker.C:
			if err := w.Flush(); err != nil {
				w.log.WithComponent("metrics_writer").WithError(err).Error("periodic flush failed")
			}
		}
	}
}

// Write buffers e. It can be used directly as a backtest callback.
func (w *MetricsWriter) Write(e metrics.Entry) error {
	key := market.Key{Symbol: e.Symbol, Market: e.Market}
	w.mu.Lock()
	w.buffer[key] = append(w.buffer[key], e)
	size := len(w.buffer[key])
	w.mu.Unlock()

	if w.cfg.Writer.Buffer.MaxSize > 0 && size >= w.cfg.Writer.Buffer.MaxSize {
		return w.flushKey(key)
	}
	return nil
}

func (w *MetricsWriter) flushKey(key market.Key) error {
	w.mu.Lock()
	entries := w.buffer[key]
	delete(w.buffer, key)
	w.mu.Unlock()

	if len(entries) == 0 {
		return nil
	}
	return w.writeBatch(key, entries)
}

// Flush writes every non-empty buffer.
func (w *MetricsWriter) Flush() error {
	w.mu.Lock()
	buffers := w.buffer
	w.buffer = make(map[market.Key][]metrics.Entry)
	w.mu.Unlock()

	var errs []error
	for key, entries := range buffers {
		if len(entries) == 0 {
			continue
		}
		if err := w.writeBatch(key, entries); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Files lists the object keys, or local paths, written so far.
func (w *MetricsWriter) Files() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.files...)
}

func (w *MetricsWriter) writeBatch(key market.Key, entries []metrics.Entry) error {
	start := time.Now()
	objectKey := w.objectKey(key, entries[0].TimestampOfReceive, uuid.NewString())

	var (
		size int64
		err  error
		dest string
	)
	if w.s3Client != nil {
		dest = objectKey
		size, err = w.upload(objectKey, entries)
	} else {
		dest = filepath.Join(w.cfg.Writer.OutputDir, filepath.FromSlash(objectKey))
		size, err = w.writeLocal(dest, entries)
	}
	if err != nil {
		w.log.WithComponent("metrics_writer").WithError(err).WithFields(logger.Fields{
			"instrument": key.String(),
			"records":    len(entries),
		}).Error("write parquet failed")
		return fmt.Errorf("write %s: %w", dest, err)
	}

	w.mu.Lock()
	w.files = append(w.files, dest)
	w.mu.Unlock()

	duration := time.Since(start)
	fields := logger.Fields{
		"destination": dest,
		"records":     len(entries),
		"bytes":       size,
		"duration_ms": float64(duration.Nanoseconds()) / 1e6,
	}
	if duration > 0 {
		fields["throughput_bytes_per_sec"] = float64(size) / duration.Seconds()
	}
	w.log.WithComponent("metrics_writer").WithFields(fields).Info("metrics batch written")
	logger.LogDataFlowEntry(w.log.WithComponent("metrics_writer"), key.String(), dest, len(entries), "parquet")
	logger.IncrementParquetWrite(size)
	return nil
}

func (w *MetricsWriter) upload(key string, entries []metrics.Entry) (int64, error) {
	mw := newMemFileWriter()
	if err := writeParquet(mw, entries, w.mask, w.codec); err != nil {
		return 0, err
	}
	input := &s3.PutObjectInput{
		Bucket: aws.String(w.cfg.Storage.S3.Bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(mw.Bytes()),
	}
	ctx := context.WithoutCancel(w.ctx)
	if _, err := w.s3Client.PutObject(ctx, input); err != nil {
		return 0, err
	}
	return int64(len(mw.Bytes())), nil
}

func (w *MetricsWriter) writeLocal(dest string, entries []metrics.Entry) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, err
	}
	fw, err := local.NewLocalFileWriter(dest)
	if err != nil {
		return 0, err
	}
	if err := writeParquet(fw, entries, w.mask, w.codec); err != nil {
		fw.Close()
		return 0, err
	}
	if err := fw.Close(); err != nil {
		return 0, err
	}
	info, err := os.Stat(dest)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// objectKey builds prefix/market=M/symbol=S/{time}/metrics_S_M_id.parquet.
// The time path comes from the first record of the batch, in UTC.
func (w *MetricsWriter) objectKey(key market.Key, tsMicros int64, id string) string {
	timestamp := time.UnixMicro(tsMicros).UTC()
	if tsMicros == 0 {
		timestamp = w.now().UTC()
	}

	var parts []string
	if p := strings.Trim(w.cfg.Storage.S3.Prefix, "/"); p != "" && w.s3Client != nil {
		parts = append(parts, p)
	}
	parts = append(parts,
		fmt.Sprintf("market=%s", key.Market),
		fmt.Sprintf("symbol=%s", key.Symbol),
	)

	if w.cfg.Writer.Partitioning.Scheme != "none" {
		timePath := w.cfg.Writer.Partitioning.TimeFormat
		if timePath == "" {
			timePath = "{year}/{month}/{day}/{hour}"
		}
		timePath = strings.ReplaceAll(timePath, "{year}", fmt.Sprintf("%04d", timestamp.Year()))
		timePath = strings.ReplaceAll(timePath, "{month}", fmt.Sprintf("%02d", int(timestamp.Month())))
		timePath = strings.ReplaceAll(timePath, "{day}", fmt.Sprintf("%02d", timestamp.Day()))
		timePath = strings.ReplaceAll(timePath, "{hour}", fmt.Sprintf("%02d", timestamp.Hour()))
		parts = append(parts, timePath)
	}

	filename := fmt.Sprintf("metrics_%s_%s_%s.parquet", key.Symbol, key.Market, id)
	return path.Join(append(parts, filename)...)
}
