package logger

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

type channelStat struct {
	messages int64
	bytes    int64
}

// Replay counters. They are process wide and only ever grow.
var (
	depthEvents   int64
	tradeEvents   int64
	emissions     int64
	skippedRows   int64
	parquetWrites int64
	kafkaMessages int64

	warnCounts  sync.Map // component -> *int64
	errorCounts sync.Map // component -> *int64
	channels    sync.Map // name -> *channelStat
)

// Counters is a point-in-time copy of the replay counters.
type Counters struct {
	DepthEvents   int64
	TradeEvents   int64
	Emissions     int64
	SkippedRows   int64
	ParquetWrites int64
	KafkaMessages int64
}

func Snapshot() Counters {
	return Counters{
		DepthEvents:   atomic.LoadInt64(&depthEvents),
		TradeEvents:   atomic.LoadInt64(&tradeEvents),
		Emissions:     atomic.LoadInt64(&emissions),
		SkippedRows:   atomic.LoadInt64(&skippedRows),
		ParquetWrites: atomic.LoadInt64(&parquetWrites),
		KafkaMessages: atomic.LoadInt64(&kafkaMessages),
	}
}

func bump(m *sync.Map, key string) {
	v, _ := m.LoadOrStore(key, new(int64))
	atomic.AddInt64(v.(*int64), 1)
}

func recordWarn(component string)  { bump(&warnCounts, component) }
func recordError(component string) { bump(&errorCounts, component) }

func IncrementDepthEvent() { atomic.AddInt64(&depthEvents, 1) }
func IncrementTradeEvent() { atomic.AddInt64(&tradeEvents, 1) }
func IncrementEmission()   { atomic.AddInt64(&emissions, 1) }
func IncrementSkippedRow() { atomic.AddInt64(&skippedRows, 1) }

func IncrementParquetWrite(size int64) {
	atomic.AddInt64(&parquetWrites, 1)
	recordChannel("parquet_write", int(size))
}

func IncrementKafkaMessage(size int) {
	atomic.AddInt64(&kafkaMessages, 1)
	recordChannel("kafka_publish", size)
}

// RecordChannelMessage counts one message of size bytes on a named channel.
func RecordChannelMessage(name string, size int) {
	recordChannel(name, size)
}

func recordChannel(name string, size int) {
	v, _ := channels.LoadOrStore(name, &channelStat{})
	cs := v.(*channelStat)
	atomic.AddInt64(&cs.messages, 1)
	atomic.AddInt64(&cs.bytes, int64(size))
}

func loadCounts(m *sync.Map) map[string]int64 {
	out := map[string]int64{}
	m.Range(func(k, v any) bool {
		out[k.(string)] = atomic.LoadInt64(v.(*int64))
		return true
	})
	return out
}

// StartReport logs system and replay statistics every interval until ctx is
// done.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

// LogReport writes one report immediately.
func LogReport(ctx context.Context, log *Log) {
	logReport(ctx, log)
}

func logReport(ctx context.Context, log *Log) {
	cpuPct := 0.0
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		cpuPct = pct[0]
	}
	memUsed := 0.0
	if vm, err := mem.VirtualMemory(); err == nil {
		memUsed = float64(vm.Used) / 1024 / 1024
	}
	diskUsed := 0.0
	if du, err := disk.Usage("/"); err == nil {
		diskUsed = float64(du.Used) / 1024 / 1024
	}

	channelData := map[string]map[string]int64{}
	channels.Range(func(k, v any) bool {
		cs := v.(*channelStat)
		channelData[k.(string)] = map[string]int64{
			"messages": atomic.LoadInt64(&cs.messages),
			"bytes":    atomic.LoadInt64(&cs.bytes),
		}
		return true
	})

	c := Snapshot()
	log.WithComponent("report").WithFields(Fields{
		"depth_events":   c.DepthEvents,
		"trade_events":   c.TradeEvents,
		"emissions":      c.Emissions,
		"skipped_rows":   c.SkippedRows,
		"parquet_writes": c.ParquetWrites,
		"kafka_messages": c.KafkaMessages,
		"warns":          loadCounts(&warnCounts),
		"errors":         loadCounts(&errorCounts),
		"channels":       channelData,
		"goroutines":     runtime.NumGoroutine(),
		"cpu_percent":    cpuPct,
		"memory_mb":      int64(memUsed),
		"disk_mb":        int64(diskUsed),
	}).Info("runtime report")

	datum := func(name string, unit cwtypes.StandardUnit, v float64) cwtypes.MetricDatum {
		return cwtypes.MetricDatum{MetricName: aws.String(name), Unit: unit, Value: aws.Float64(v)}
	}
	data := []cwtypes.MetricDatum{
		datum("CPUPercent", cwtypes.StandardUnitPercent, cpuPct),
		datum("MemoryMB", cwtypes.StandardUnitMegabytes, memUsed),
		datum("DiskMB", cwtypes.StandardUnitMegabytes, diskUsed),
		datum("DepthEvents", cwtypes.StandardUnitCount, float64(c.DepthEvents)),
		datum("TradeEvents", cwtypes.StandardUnitCount, float64(c.TradeEvents)),
		datum("Emissions", cwtypes.StandardUnitCount, float64(c.Emissions)),
		datum("SkippedRows", cwtypes.StandardUnitCount, float64(c.SkippedRows)),
		datum("ParquetWrites", cwtypes.StandardUnitCount, float64(c.ParquetWrites)),
		datum("KafkaMessages", cwtypes.StandardUnitCount, float64(c.KafkaMessages)),
	}
	for name, stats := range channelData {
		dims := []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}}
		data = append(data,
			cwtypes.MetricDatum{
				MetricName: aws.String("ChannelMessages"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: dims,
				Value:      aws.Float64(float64(stats["messages"])),
			},
			cwtypes.MetricDatum{
				MetricName: aws.String("ChannelBytes"),
				Unit:       cwtypes.StandardUnitBytes,
				Dimensions: dims,
				Value:      aws.Float64(float64(stats["bytes"])),
			},
		)
	}

	publishMetrics(ctx, data)
}
