package config

import "time"

// Config holds the tunables for one opened Store (one root directory).
type Config struct {
	RootDir string

	Memory  MemoryConfig
	Index   IndexConfig
	Notify  NotifyConfig
	Metrics MetricsConfig
}

type MemoryConfig struct {
	BufferSizes []uint64 // bucket sizes for the read-buffer pool
}

type IndexConfig struct {
	UseWorker       bool          // rebuild indexes on the ants pool instead of inline
	WorkerPoolSize  int           // ants pool size (<=0 = unbounded)
	LoadedCacheSize int           // LRU capacity for loaded secondary indexes, per collection
	RebuildTimeout  time.Duration // max time to wait for a worker-backed rebuild
}

type NotifyConfig struct {
	WatchFilesystem  bool // enable fsnotify watch on collection directories
	SubscriberBuffer int  // per-subscriber channel buffer; once full, new events are dropped
}

type MetricsConfig struct {
	Namespace string // non-empty enables metrics; the Store reports through metrics.Default(), whose namespace is always "leafdb"
}

func DefaultConfig() *Config {
	return &Config{
		RootDir: "./data",
		Memory: MemoryConfig{
			BufferSizes: []uint64{1024, 4096, 16384, 65536, 262144},
		},
		Index: IndexConfig{
			UseWorker:       true,
			WorkerPoolSize:  0,
			LoadedCacheSize: 64,
			RebuildTimeout:  30 * time.Second,
		},
		Notify: NotifyConfig{
			WatchFilesystem:  true,
			SubscriberBuffer: 16,
		},
		Metrics: MetricsConfig{
			Namespace: "leafdb",
		},
	}
}
