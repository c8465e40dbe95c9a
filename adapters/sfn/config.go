package sfnclient

// DefaultRegion is used when neither Config.Region nor the AWS config chain
// names a region.
const DefaultRegion = "us-west-2"

// Config controls the Step Functions client.
type Config struct {
	// Optional: AWS region; falls back to the default chain, then DefaultRegion
	Region string

	// Optional: endpoint override, e.g. a Step Functions Local URL
	Endpoint string
}

// DefaultConfig provides sensible defaults. The region is left to the AWS
// config chain.
func DefaultConfig() Config {
	return Config{}
}
