package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/devcrew/devcrew/internal/common/apperr"
	"github.com/devcrew/devcrew/internal/common/config"
	"github.com/devcrew/devcrew/internal/common/logger"
)

// Service routes roles to providers and normalizes failures to the
// llm-provider error kind.
type Service struct {
	cfg config.LLMConfig
	log *logger.Logger

	mu        sync.RWMutex
	providers map[string]Provider
}

// NewService creates a service with the echo provider pre-registered and,
// when a base URL is configured, an OpenAI-compatible provider.
func NewService(cfg config.LLMConfig, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Default()
	}
	s := &Service{
		cfg:       cfg,
		log:       log.WithFields(zap.String("component", "llm_service")),
		providers: make(map[string]Provider),
	}
	s.Register(NewEchoProvider())
	if cfg.BaseURL != "" {
		s.Register(NewOpenAIProvider(cfg))
	}
	return s
}

// Register adds or replaces a provider by name.
func (s *Service) Register(p Provider) {
	s.mu.Lock()
	s.providers[strings.ToLower(p.Name())] = p
	s.mu.Unlock()
}

// ProviderNameFor reports which provider a role resolves to.
func (s *Service) ProviderNameFor(role string) string {
	return s.cfg.ProviderFor(role)
}

// StreamForRole generates text using the provider configured for the
// role. Provider failures carry the llm-provider error kind.
func (s *Service) StreamForRole(ctx context.Context, role string, req Request, onChunk ChunkFunc) (string, error) {
	name := strings.ToLower(s.cfg.ProviderFor(role))

	s.mu.RLock()
	provider, ok := s.providers[name]
	s.mu.RUnlock()
	if !ok {
		return "", apperr.New(apperr.KindLLMProvider,
			fmt.Sprintf("no provider registered for %q (role %s)", name, role))
	}

	if req.Model == "" {
		req.Model = s.cfg.Model
	}

	text, err := provider.Stream(ctx, req, onChunk)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindLLMProvider {
			return "", err
		}
		return "", apperr.Wrap(apperr.KindLLMProvider,
			fmt.Sprintf("provider %s failed", name), err)
	}
	return text, nil
}
