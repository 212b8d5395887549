// Package metadata resolves token addresses into fully-populated token
// records, combining on-chain ground truth with off-chain enrichment.
package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"tokenscope/internal/cache"
	"tokenscope/internal/chain"
	"tokenscope/internal/model"
	"tokenscope/internal/source"
)

// ErrInvalidContract marks an address whose contract yields no usable
// token interface.
var ErrInvalidContract = errors.New("invalid token contract")

const (
	basicInfoTTL   = time.Hour
	logoTTL        = 24 * time.Hour
	descriptionTTL = 6 * time.Hour
	socialsTTL     = 12 * time.Hour
	validationTTL  = time.Hour

	minDescriptionLen = 50
	probeTimeout      = 5 * time.Second
)

// Defaults used when a non-conforming contract omits a field.
const (
	defaultName   = "Unknown"
	defaultSymbol = "UNKNOWN"
)

const defaultDecimals = uint8(18)

// BasicInfo is the on-chain portion of a token record.
type BasicInfo struct {
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	Decimals    uint8  `json:"decimals"`
	TotalSupply string `json:"total_supply"`
}

// LogoSource resolves a logo URI for a token, or returns empty when it has
// none. Sources are tried in rank order.
type LogoSource func(ctx context.Context, address, symbol string) (string, error)

// Config holds the external endpoints used by the enrichment waterfalls.
type Config struct {
	// AssetRegistryURL is a printf template taking the checksummed token
	// address, pointing at the DEX asset registry.
	AssetRegistryURL string
	// ImageCDNURL is a printf template taking the lower-cased token address.
	ImageCDNURL string
}

// Service is the metadata enrichment service.
type Service struct {
	cfg     Config
	cache   cache.Cache
	reader  chain.Reader
	sources []source.Client
	logger  *zap.Logger

	logoSources []LogoSource
	httpClient  *http.Client
	now         func() time.Time
}

// NewService builds the enrichment service with its collaborators.
func NewService(cfg Config, cacheStore cache.Cache, reader chain.Reader, sources []source.Client, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		cfg:        cfg,
		cache:      cacheStore,
		reader:     reader,
		sources:    sources,
		logger:     logger,
		httpClient: &http.Client{Timeout: probeTimeout},
		now:        time.Now,
	}
	s.logoSources = []LogoSource{s.registryLogo, s.cdnLogo, placeholderLogo}
	return s
}

// FetchBasicInfo reads name, symbol, decimals and totalSupply from the
// token contract. Each field is independently fault-tolerant: a failing
// call yields the documented default instead of aborting the fetch.
func (s *Service) FetchBasicInfo(ctx context.Context, address string) (BasicInfo, error) {
	normalized := model.NormalizeAddress(address)
	key := "token:basic:" + normalized

	var cached BasicInfo
	if ok := s.cacheGet(ctx, key, &cached); ok {
		return cached, nil
	}

	contract := common.HexToAddress(normalized)
	info := BasicInfo{
		Name:        defaultName,
		Symbol:      defaultSymbol,
		Decimals:    defaultDecimals,
		TotalSupply: "0",
	}

	if name, err := chain.CallString(ctx, s.reader, contract, "name"); err == nil && name != "" {
		info.Name = name
	} else if err != nil {
		s.logger.Debug("name call failed", zap.String("token", normalized), zap.Error(err))
	}
	if symbol, err := chain.CallString(ctx, s.reader, contract, "symbol"); err == nil {
		info.Symbol = symbol
	} else {
		s.logger.Debug("symbol call failed", zap.String("token", normalized), zap.Error(err))
	}
	if decimals, err := chain.CallUint8(ctx, s.reader, contract, "decimals"); err == nil {
		info.Decimals = decimals
	} else {
		s.logger.Debug("decimals call failed", zap.String("token", normalized), zap.Error(err))
	}
	if supply, err := chain.CallBigInt(ctx, s.reader, contract, "totalSupply"); err == nil {
		info.TotalSupply = supply.String()
	} else {
		s.logger.Debug("totalSupply call failed", zap.String("token", normalized), zap.Error(err))
	}

	s.cacheSet(ctx, key, info, basicInfoTTL)
	return info, nil
}

// FetchLogo tries ranked logo sources and returns the first non-empty
// result. The final placeholder source is deterministic on symbol, so the
// waterfall always yields a value.
func (s *Service) FetchLogo(ctx context.Context, address, symbol string) (string, error) {
	normalized := model.NormalizeAddress(address)
	key := "token:logo:" + normalized

	var cached string
	if ok := s.cacheGet(ctx, key, &cached); ok {
		return cached, nil
	}

	for _, logoSource := range s.logoSources {
		logo, err := logoSource(ctx, normalized, symbol)
		if err != nil {
			s.logger.Debug("logo source failed", zap.String("token", normalized), zap.Error(err))
			continue
		}
		if logo == "" {
			continue
		}
		s.cacheSet(ctx, key, logo, logoTTL)
		return logo, nil
	}

	return "", nil
}

// FetchDescription queries ranked sources and accepts the first
// description longer than the garbage threshold. Only accepted results are
// cached.
func (s *Service) FetchDescription(ctx context.Context, address string) (string, error) {
	normalized := model.NormalizeAddress(address)
	key := "token:desc:" + normalized

	var cached string
	if ok := s.cacheGet(ctx, key, &cached); ok {
		return cached, nil
	}

	for _, client := range s.sources {
		token, err := client.GetToken(ctx, normalized)
		if err != nil {
			s.logger.Debug("description source failed",
				zap.String("source", client.Name()), zap.String("token", normalized), zap.Error(err))
			continue
		}
		if token == nil {
			continue
		}
		description := strings.TrimSpace(token.Description)
		if len(description) <= minDescriptionLen {
			continue
		}
		s.cacheSet(ctx, key, description, descriptionTTL)
		return description, nil
	}

	return "", nil
}

// FetchSocialLinks queries all sources and merges their results: later
// sources fill gaps left by earlier ones, never overwrite. The merged
// record is cached only when at least one field was found.
func (s *Service) FetchSocialLinks(ctx context.Context, address string) (model.SocialLinks, error) {
	normalized := model.NormalizeAddress(address)
	key := "token:socials:" + normalized

	var cached model.SocialLinks
	if ok := s.cacheGet(ctx, key, &cached); ok {
		return cached, nil
	}

	var merged model.SocialLinks
	for _, client := range s.sources {
		token, err := client.GetToken(ctx, normalized)
		if err != nil {
			s.logger.Debug("socials source failed",
				zap.String("source", client.Name()), zap.String("token", normalized), zap.Error(err))
			continue
		}
		if token == nil {
			continue
		}
		merged = merged.Merge(token.Socials)
	}

	if !merged.Empty() {
		s.cacheSet(ctx, key, merged, socialsTTL)
	}
	return merged, nil
}

// ValidateContract reports whether the address carries deployed bytecode
// and answers at least one of name/symbol/decimals. Negative results are
// cached too, so known-bad addresses are not re-probed every cycle.
func (s *Service) ValidateContract(ctx context.Context, address string) (bool, error) {
	normalized := model.NormalizeAddress(address)
	key := "token:valid:" + normalized

	var cached bool
	if ok := s.cacheGet(ctx, key, &cached); ok {
		return cached, nil
	}

	contract := common.HexToAddress(normalized)
	code, err := s.reader.CodeAt(ctx, contract)
	if err != nil {
		return false, fmt.Errorf("get code: %w", err)
	}

	valid := false
	if len(code) > 0 {
		_, nameErr := chain.CallString(ctx, s.reader, contract, "name")
		_, symbolErr := chain.CallString(ctx, s.reader, contract, "symbol")
		_, decimalsErr := chain.CallUint8(ctx, s.reader, contract, "decimals")
		valid = nameErr == nil || symbolErr == nil || decimalsErr == nil
	}

	s.cacheSet(ctx, key, valid, validationTTL)
	return valid, nil
}

// Enrich resolves an address into the best-available token record. Logo,
// description and socials are fetched concurrently once basic info
// succeeds; their absence never fails the enrichment.
func (s *Service) Enrich(ctx context.Context, address string) (model.Token, error) {
	normalized := model.NormalizeAddress(address)

	basic, err := s.FetchBasicInfo(ctx, normalized)
	if err != nil {
		return model.Token{}, err
	}
	if strings.TrimSpace(basic.Symbol) == "" {
		return model.Token{}, fmt.Errorf("%w: %s has no symbol", ErrInvalidContract, normalized)
	}

	var (
		wg          sync.WaitGroup
		logo        string
		description string
		socials     model.SocialLinks
	)
	wg.Add(3)
	go func() {
		defer wg.Done()
		logo, _ = s.FetchLogo(ctx, normalized, basic.Symbol)
	}()
	go func() {
		defer wg.Done()
		description, _ = s.FetchDescription(ctx, normalized)
	}()
	go func() {
		defer wg.Done()
		socials, _ = s.FetchSocialLinks(ctx, normalized)
	}()
	wg.Wait()

	now := s.now().UTC()
	token := model.Token{
		Address:      normalized,
		Name:         basic.Name,
		Symbol:       basic.Symbol,
		Decimals:     basic.Decimals,
		TotalSupply:  basic.TotalSupply,
		LogoURI:      logo,
		Description:  description,
		Socials:      socials,
		Category:     Categorize(basic.Name, basic.Symbol),
		Verification: model.Verification{IsVerified: false, Confidence: 0},
		RiskLevel:    model.RiskUnknown,
		DiscoveredAt: now,
		CreatedAt:    now,
		UpdatedAt:    now,
		IsActive:     true,
	}
	return token, nil
}

func (s *Service) registryLogo(ctx context.Context, address, _ string) (string, error) {
	if s.cfg.AssetRegistryURL == "" {
		return "", nil
	}
	endpoint := fmt.Sprintf(s.cfg.AssetRegistryURL, common.HexToAddress(address).Hex())
	return s.probeURL(ctx, endpoint)
}

func (s *Service) cdnLogo(ctx context.Context, address, _ string) (string, error) {
	if s.cfg.ImageCDNURL == "" {
		return "", nil
	}
	endpoint := fmt.Sprintf(s.cfg.ImageCDNURL, address)
	return s.probeURL(ctx, endpoint)
}

// placeholderLogo synthesizes an avatar keyed only by symbol. It never
// fails, which makes it the terminal step of the waterfall.
func placeholderLogo(_ context.Context, _, symbol string) (string, error) {
	if symbol == "" {
		symbol = "?"
	}
	return "https://ui-avatars.com/api/?size=128&name=" + url.QueryEscape(symbol), nil
}

func (s *Service) probeURL(ctx context.Context, endpoint string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("build probe request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("probe %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", nil
	}
	return endpoint, nil
}

func (s *Service) cacheGet(ctx context.Context, key string, out interface{}) bool {
	if s.cache == nil {
		return false
	}
	data, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		return false
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		s.logger.Warn("cache entry corrupt", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

func (s *Service) cacheSet(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		s.logger.Warn("cache marshal failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := s.cache.Set(ctx, key, data, ttl); err != nil {
		s.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
}
