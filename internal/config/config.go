package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// LogOutputCloudWatch ships logs to CloudWatch Logs
const LogOutputCloudWatch = "cloudwatch"

// Queue backends
const (
	QueueBackendSQS      = "sqs"
	QueueBackendRabbitMQ = "rabbitmq"
)

// Parameter sources
const (
	ParameterSourceSSM    = "ssm"
	ParameterSourceStatic = "static"
)

// Ledger backends
const (
	LedgerBackendNone     = "none"
	LedgerBackendDynamoDB = "dynamodb"
	LedgerBackendPostgres = "postgres"
)

// Config represents the complete application configuration
type Config struct {
	App        AppConfig        `yaml:"app"`
	Logging    LoggingConfig    `yaml:"logging"`
	AWS        AWSConfig        `yaml:"aws"`
	Parameters ParametersConfig `yaml:"parameters"`
	Queue      QueueConfig      `yaml:"queue"`
	Storage    StorageConfig    `yaml:"storage"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	Worker     WorkerConfig     `yaml:"worker"`
	Server     ServerConfig     `yaml:"server"`
	Dump       DumpConfig       `yaml:"dump"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string           `yaml:"level"`
	Format       string           `yaml:"format"`
	Output       string           `yaml:"output"`
	EnableCaller bool             `yaml:"enable_caller"`
	CloudWatch   CloudWatchConfig `yaml:"cloudwatch"`
}

// CloudWatchConfig configures the CloudWatch Logs sink used when output is "cloudwatch"
type CloudWatchConfig struct {
	LogGroup     string        `yaml:"log_group"`
	LogStream    string        `yaml:"log_stream"`
	SendInterval time.Duration `yaml:"send_interval"`
}

// AWSConfig is passed explicitly into every AWS client constructor
type AWSConfig struct {
	Region              string `yaml:"region"`
	Endpoint            string `yaml:"endpoint"`
	UseInstanceMetadata bool   `yaml:"use_instance_metadata"`
	MaxRetries          int    `yaml:"max_retries"`
}

// ParametersConfig tells the worker where to resolve its run-time parameters
type ParametersConfig struct {
	Source         string `yaml:"source"`
	QueueNameKey   string `yaml:"queue_name_key"`
	BucketNameKey  string `yaml:"bucket_name_key"`
	WithDecryption bool   `yaml:"with_decryption"`

	// Static values, used when source is "static"
	QueueName  string `yaml:"queue_name"`
	BucketName string `yaml:"bucket_name"`
}

// QueueConfig holds job source configuration
type QueueConfig struct {
	Backend           string         `yaml:"backend"`
	WaitTime          time.Duration  `yaml:"wait_time"`
	VisibilityTimeout time.Duration  `yaml:"visibility_timeout"`
	RabbitMQ          RabbitMQConfig `yaml:"rabbitmq"`
}

// RabbitMQConfig holds RabbitMQ connection and queue configuration
type RabbitMQConfig struct {
	Host         string           `yaml:"host"`
	Port         int              `yaml:"port"`
	User         string           `yaml:"user"`
	Password     string           `yaml:"password"`
	VHost        string           `yaml:"vhost"`
	Queue        QueueDeclare     `yaml:"queue"`
	Connection   ConnectionConfig `yaml:"connection"`
	PollInterval time.Duration    `yaml:"poll_interval"`
}

// QueueDeclare holds RabbitMQ queue declaration flags
type QueueDeclare struct {
	Durable    bool `yaml:"durable"`
	AutoDelete bool `yaml:"auto_delete"`
	Exclusive  bool `yaml:"exclusive"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// StorageConfig holds result store configuration
type StorageConfig struct {
	KeyPrefix     string        `yaml:"key_prefix"`
	UploadTimeout time.Duration `yaml:"upload_timeout"`
	CheckTimeout  time.Duration `yaml:"check_timeout"`
}

// PipelineConfig describes the external tools and the working directories they use
type PipelineConfig struct {
	IndexPath    string            `yaml:"index_path"`
	ManifestPath string            `yaml:"manifest_path"`
	Directories  DirectoriesConfig `yaml:"directories"`
	Tools        ToolsConfig       `yaml:"tools"`
}

// DirectoriesConfig lists the working directory set of a job
type DirectoriesConfig struct {
	Raw   DirectoryConfig `yaml:"raw"`
	Fastq DirectoryConfig `yaml:"fastq"`
	Quant DirectoryConfig `yaml:"quant"`
	Stats DirectoryConfig `yaml:"stats"`
}

// DirectoryConfig is one working directory. PerJob directories get a sub-directory named
// after the job id. Clean defaults to true.
type DirectoryConfig struct {
	Path   string `yaml:"path"`
	PerJob bool   `yaml:"per_job"`
	Clean  *bool  `yaml:"clean"`
}

// ShouldClean reports whether regular files in the directory are removed after each job
func (d DirectoryConfig) ShouldClean() bool {
	return d.Clean == nil || *d.Clean
}

// ToolsConfig holds one entry per external tool
type ToolsConfig struct {
	Fetch     ToolConfig `yaml:"fetch"`
	Convert   ToolConfig `yaml:"convert"`
	Quantify  ToolConfig `yaml:"quantify"`
	Summarize ToolConfig `yaml:"summarize"`
}

// ToolConfig is an external executable with argument templates
type ToolConfig struct {
	Path    string        `yaml:"path"`
	Args    []string      `yaml:"args"`
	Dir     string        `yaml:"dir"`
	Timeout time.Duration `yaml:"timeout"`
}

// LedgerConfig selects where per-sample run metadata is recorded
type LedgerConfig struct {
	Backend  string         `yaml:"backend"`
	DynamoDB DynamoDBConfig `yaml:"dynamodb"`
	Database DatabaseConfig `yaml:"database"`
}

// DynamoDBConfig holds the metadata table settings
type DynamoDBConfig struct {
	Table string `yaml:"table"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	MaxMessages     int           `yaml:"max_messages"`
	ReceiveBackoff  time.Duration `yaml:"receive_backoff"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	ExecutionMode   string        `yaml:"execution_mode"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DumpConfig holds metadata dump settings
type DumpConfig struct {
	Output   string `yaml:"output"`
	PageSize int    `yaml:"page_size"`
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.ApplyDefaults()

	return &config, nil
}

// ApplyDefaults fills every unset value with the production default
func (c *Config) ApplyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.CloudWatch.SendInterval <= 0 {
		c.Logging.CloudWatch.SendInterval = time.Second
	}

	if c.AWS.MaxRetries <= 0 {
		c.AWS.MaxRetries = 3
	}

	if c.Parameters.Source == "" {
		c.Parameters.Source = ParameterSourceSSM
	}
	if c.Parameters.QueueNameKey == "" {
		c.Parameters.QueueNameKey = "/neardata/queue_name"
	}
	if c.Parameters.BucketNameKey == "" {
		c.Parameters.BucketNameKey = "/neardata/s3_bucket_name"
	}

	if c.Queue.Backend == "" {
		c.Queue.Backend = QueueBackendSQS
	}
	if c.Queue.WaitTime <= 0 {
		c.Queue.WaitTime = 20 * time.Second
	}
	if c.Queue.RabbitMQ.PollInterval <= 0 {
		c.Queue.RabbitMQ.PollInterval = time.Second
	}
	if c.Queue.RabbitMQ.Connection.RetryAttempts <= 0 {
		c.Queue.RabbitMQ.Connection.RetryAttempts = 5
	}
	if c.Queue.RabbitMQ.Connection.RetryInterval <= 0 {
		c.Queue.RabbitMQ.Connection.RetryInterval = 2 * time.Second
	}

	if c.Storage.KeyPrefix == "" {
		c.Storage.KeyPrefix = "normalized_counts"
	}
	if c.Storage.UploadTimeout <= 0 {
		c.Storage.UploadTimeout = 10 * time.Minute
	}
	if c.Storage.CheckTimeout <= 0 {
		c.Storage.CheckTimeout = 30 * time.Second
	}

	c.Pipeline.applyDefaults()

	if c.Ledger.Backend == "" {
		c.Ledger.Backend = LedgerBackendNone
	}
	if c.Ledger.DynamoDB.Table == "" {
		c.Ledger.DynamoDB.Table = "neardata-tissues-salmon-metadata"
	}

	if c.Worker.MaxMessages <= 0 {
		c.Worker.MaxMessages = 1
	}
	if c.Worker.ReceiveBackoff <= 0 {
		c.Worker.ReceiveBackoff = 5 * time.Second
	}
	if c.Worker.ShutdownTimeout <= 0 {
		c.Worker.ShutdownTimeout = 30 * time.Second
	}
	if c.Worker.ExecutionMode == "" {
		c.Worker.ExecutionMode = "EC2"
	}

	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}

	if c.Dump.Output == "" {
		c.Dump.Output = "data/metadata_db_dump_HPC.csv"
	}
}

func (p *PipelineConfig) applyDefaults() {
	if p.IndexPath == "" {
		p.IndexPath = "/home/ubuntu/index/human_transcriptome_index"
	}
	if p.ManifestPath == "" {
		p.ManifestPath = "/home/ubuntu/DESeq2/samples.txt"
	}

	dirs := &p.Directories
	if dirs.Raw.Path == "" {
		dirs.Raw = DirectoryConfig{Path: "/home/ubuntu/sratoolkit/sra", PerJob: true, Clean: dirs.Raw.Clean}
	}
	if dirs.Fastq.Path == "" {
		dirs.Fastq = DirectoryConfig{Path: "/home/ubuntu/fastq", PerJob: true, Clean: dirs.Fastq.Clean}
	}
	if dirs.Quant.Path == "" {
		dirs.Quant = DirectoryConfig{Path: "/home/ubuntu/salmon", PerJob: true, Clean: dirs.Quant.Clean}
	}
	if dirs.Stats.Path == "" {
		dirs.Stats = DirectoryConfig{Path: "/home/ubuntu/R_output", Clean: dirs.Stats.Clean}
	}

	tools := &p.Tools
	tools.Fetch.withDefaults("prefetch", []string{"{job_id}", "--output-file", "{raw_dir}/{job_id}.sra"}, 2*time.Hour)
	tools.Convert.withDefaults("fasterq-dump", []string{"{raw_dir}/{job_id}.sra", "--outdir", "{fastq_dir}"}, 2*time.Hour)
	tools.Quantify.withDefaults("salmon", []string{
		"quant", "-p", "2", "--useVBOpt",
		"-i", "{index}",
		"-l", "A",
		"-1", "{fastq_dir}/{job_id}_1.fastq",
		"-2", "{fastq_dir}/{job_id}_2.fastq",
		"-o", "{quant_dir}",
	}, 4*time.Hour)
	tools.Summarize.withDefaults("Rscript", []string{"DESeq2/salmon_to_deseq.R", "{job_id}"}, time.Hour)
}

func (t *ToolConfig) withDefaults(path string, args []string, timeout time.Duration) {
	if t.Path == "" {
		t.Path = path
	}
	if len(t.Args) == 0 {
		t.Args = args
	}
	if t.Timeout <= 0 {
		t.Timeout = timeout
	}
}

// ValidateWorkerConfig checks the settings the worker service depends on
func (c *Config) ValidateWorkerConfig() error {
	if err := c.validateLogging(); err != nil {
		return err
	}

	switch c.Parameters.Source {
	case ParameterSourceSSM:
		if c.Parameters.QueueNameKey == "" || c.Parameters.BucketNameKey == "" {
			return fmt.Errorf("parameter names are required for the ssm source")
		}
	case ParameterSourceStatic:
	default:
		return fmt.Errorf("unknown parameters source: %q", c.Parameters.Source)
	}

	switch c.Queue.Backend {
	case QueueBackendSQS:
		if c.Queue.WaitTime > 20*time.Second {
			return fmt.Errorf("sqs wait_time must not exceed 20s, got %s", c.Queue.WaitTime)
		}
	case QueueBackendRabbitMQ:
		if c.Queue.RabbitMQ.Host == "" {
			return fmt.Errorf("rabbitmq host is required")
		}
		if c.Queue.RabbitMQ.Port < MinPort || c.Queue.RabbitMQ.Port > MaxPort {
			return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.Queue.RabbitMQ.Port, MinPort, MaxPort)
		}
	default:
		return fmt.Errorf("unknown queue backend: %q", c.Queue.Backend)
	}

	if c.Worker.MaxMessages != 1 {
		return fmt.Errorf("worker max_messages must be 1, got %d", c.Worker.MaxMessages)
	}

	if err := c.Pipeline.validate(); err != nil {
		return err
	}

	return c.validateLedger(true)
}

// ValidateAPIConfig checks the settings the ledger API depends on
func (c *Config) ValidateAPIConfig() error {
	if err := c.validateLogging(); err != nil {
		return err
	}

	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	return c.validateLedger(false)
}

// ValidateDumpConfig checks the settings the metadata dump depends on
func (c *Config) ValidateDumpConfig() error {
	if err := c.validateLogging(); err != nil {
		return err
	}

	if c.Dump.Output == "" {
		return fmt.Errorf("dump output path is required")
	}

	if c.Dump.PageSize < 0 {
		return fmt.Errorf("dump page_size must not be negative")
	}

	return c.validateLedger(false)
}

func (c *Config) validateLogging() error {
	if c.Logging.Output == LogOutputCloudWatch && c.Logging.CloudWatch.LogGroup == "" {
		return fmt.Errorf("cloudwatch log_group is required when logging output is cloudwatch")
	}
	return nil
}

func (c *Config) validateLedger(allowNone bool) error {
	switch c.Ledger.Backend {
	case LedgerBackendNone:
		if !allowNone {
			return fmt.Errorf("a ledger backend is required")
		}
	case LedgerBackendDynamoDB:
		if c.Ledger.DynamoDB.Table == "" {
			return fmt.Errorf("dynamodb table is required")
		}
	case LedgerBackendPostgres:
		if c.Ledger.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if c.Ledger.Database.Port < MinPort || c.Ledger.Database.Port > MaxPort {
			return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Ledger.Database.Port, MinPort, MaxPort)
		}
		if c.Ledger.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	default:
		return fmt.Errorf("unknown ledger backend: %q", c.Ledger.Backend)
	}

	return nil
}

func (p *PipelineConfig) validate() error {
	if !p.Directories.Stats.ShouldClean() {
		return fmt.Errorf("stats directory must be cleaned after every job")
	}

	for name, dir := range map[string]DirectoryConfig{
		"raw":   p.Directories.Raw,
		"fastq": p.Directories.Fastq,
		"quant": p.Directories.Quant,
		"stats": p.Directories.Stats,
	} {
		if !filepath.IsAbs(dir.Path) {
			return fmt.Errorf("%s directory must be an absolute path, got %q", name, dir.Path)
		}
	}

	for name, tool := range map[string]ToolConfig{
		"fetch":     p.Tools.Fetch,
		"convert":   p.Tools.Convert,
		"quantify":  p.Tools.Quantify,
		"summarize": p.Tools.Summarize,
	} {
		if tool.Path == "" {
			return fmt.Errorf("%s tool path is required", name)
		}
		if tool.Timeout <= 0 {
			return fmt.Errorf("%s tool timeout must be greater than 0", name)
		}
	}

	return nil
}
