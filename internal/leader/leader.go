// Package leader gates schedule firing behind a Kubernetes lease so only one
// replica of the daemon arms timers at a time. Single-node deployments leave
// it disabled and run everything unconditionally.
package leader

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/tools/leaderelection"
	"k8s.io/client-go/tools/leaderelection/resourcelock"
)

// Config holds leader election settings
type Config struct {
	Enabled       bool          `toml:"enabled"`
	Namespace     string        `toml:"namespace"`
	LeaseName     string        `toml:"lease_name"`
	Identity      string        `toml:"identity"`
	Kubeconfig    string        `toml:"kubeconfig"`
	LeaseDuration time.Duration `toml:"lease_duration"`
	RenewDeadline time.Duration `toml:"renew_deadline"`
	RetryPeriod   time.Duration `toml:"retry_period"`
}

// DefaultConfig returns production defaults, disabled
func DefaultConfig() Config {
	return Config{
		Enabled:       false,
		Namespace:     "default",
		LeaseName:     "syncd-scheduler",
		LeaseDuration: 15 * time.Second,
		RenewDeadline: 10 * time.Second,
		RetryPeriod:   2 * time.Second,
	}
}

// Elector runs lease-based leader election and invokes the callbacks as
// leadership changes hands.
type Elector struct {
	config Config
	client kubernetes.Interface
	logger *slog.Logger
}

// New builds an elector. Uses in-cluster config, falling back to the
// configured kubeconfig path for out-of-cluster runs.
func New(cfg Config, logger *slog.Logger) (*Elector, error) {
	restCfg, err := rest.InClusterConfig()
	if err != nil {
		restCfg, err = clientcmd.BuildConfigFromFlags("", cfg.Kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("leader election needs cluster access: %w", err)
		}
	}

	client, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("build kubernetes client: %w", err)
	}

	if cfg.Identity == "" {
		hostname, herr := os.Hostname()
		if herr != nil {
			return nil, fmt.Errorf("derive identity: %w", herr)
		}
		cfg.Identity = hostname
	}

	return &Elector{config: cfg, client: client, logger: logger}, nil
}

// Run blocks, holding or contending for the lease until ctx is cancelled.
// onStarted runs with a context that is cancelled when leadership is lost;
// onStopped runs after leadership ends.
func (e *Elector) Run(ctx context.Context, onStarted func(context.Context), onStopped func()) {
	lock := &resourcelock.LeaseLock{
		LeaseMeta: metav1.ObjectMeta{
			Name:      e.config.LeaseName,
			Namespace: e.config.Namespace,
		},
		Client: e.client.CoordinationV1(),
		LockConfig: resourcelock.ResourceLockConfig{
			Identity: e.config.Identity,
		},
	}

	leaderelection.RunOrDie(ctx, leaderelection.LeaderElectionConfig{
		Lock:            lock,
		ReleaseOnCancel: true,
		LeaseDuration:   e.config.LeaseDuration,
		RenewDeadline:   e.config.RenewDeadline,
		RetryPeriod:     e.config.RetryPeriod,
		Callbacks: leaderelection.LeaderCallbacks{
			OnStartedLeading: func(leaderCtx context.Context) {
				e.logger.Info("became leader",
					"lease", e.config.LeaseName,
					"identity", e.config.Identity)
				onStarted(leaderCtx)
			},
			OnStoppedLeading: func() {
				e.logger.Warn("lost leadership",
					"lease", e.config.LeaseName,
					"identity", e.config.Identity)
				onStopped()
			},
			OnNewLeader: func(identity string) {
				if identity != e.config.Identity {
					e.logger.Info("observed new leader", "identity", identity)
				}
			},
		},
	})
}
