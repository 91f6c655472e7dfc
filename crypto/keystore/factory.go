package keystore

// Backends.
const (
	BackendKeyring = "keyring"
	BackendFile    = "file"
	BackendMemory  = "memory"
)

// DefaultServiceName is the keyring service items are stored under.
const DefaultServiceName = "toolhost"

// Config selects and configures a keystore backend.
type Config struct {
	// Backend is one of the registered backends. Defaults to BackendKeyring.
	Backend string `yaml:"backend"`
	// ServiceName namespaces items in the OS keystore.
	ServiceName string `yaml:"service_name"`
	// FileDir is the directory of the encrypted file backend.
	FileDir string `yaml:"file_dir"`
	// Password unlocks the file backend.
	Password string `yaml:"-"`
}

func (c Config) serviceName() string {
	if c.ServiceName == "" {
		return DefaultServiceName
	}
	return c.ServiceName
}

// NewKeystore creates the keystore backend named by cfg.Backend.
func NewKeystore(cfg Config) (Keystore, error) {
	if cfg.Backend == "" {
		cfg.Backend = BackendKeyring
	}
	factory, err := GetKeystoreFactory(cfg.Backend)
	if err != nil {
		return nil, err
	}
	return factory(cfg)
}
