package metadata

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"tokenscope/internal/cache"
	"tokenscope/internal/chain/chaintest"
	"tokenscope/internal/model"
	"tokenscope/internal/source"
	"tokenscope/internal/source/sourcetest"
)

const testAddress = "0xAbC0000000000000000000000000000000000001"

func newTestService(t *testing.T, reader *chaintest.Reader, sources []source.Client, now *time.Time) *Service {
	t.Helper()
	clock := func() time.Time {
		if now != nil {
			return *now
		}
		return time.Now()
	}
	svc := NewService(Config{}, cache.NewMemory(clock), reader, sources, nil)
	svc.now = clock
	return svc
}

func scriptBasicInfo(reader *chaintest.Reader, name, symbol string, decimals uint8) {
	contract := common.HexToAddress(testAddress)
	reader.SetReturn(contract, "name()", chaintest.EncodeString(name))
	reader.SetReturn(contract, "symbol()", chaintest.EncodeString(symbol))
	reader.SetReturn(contract, "decimals()", chaintest.EncodeUint8(decimals))
}

func TestFetchBasicInfoDefaults(t *testing.T) {
	reader := chaintest.New()
	contract := common.HexToAddress(testAddress)
	// Only symbol answers; every other field falls back to its default.
	reader.SetReturn(contract, "symbol()", chaintest.EncodeString("ODD"))

	svc := newTestService(t, reader, nil, nil)
	info, err := svc.FetchBasicInfo(context.Background(), testAddress)
	require.NoError(t, err)
	require.Equal(t, "ODD", info.Symbol)
	require.Equal(t, "Unknown", info.Name)
	require.Equal(t, uint8(18), info.Decimals)
	require.Equal(t, "0", info.TotalSupply)
}

func TestFetchBasicInfoCacheTTL(t *testing.T) {
	reader := chaintest.New()
	scriptBasicInfo(reader, "Alpha", "ALPHA", 18)

	now := time.Unix(1_700_000_000, 0)
	svc := newTestService(t, reader, nil, &now)
	ctx := context.Background()

	_, err := svc.FetchBasicInfo(ctx, testAddress)
	require.NoError(t, err)
	callsAfterFirst := reader.CallCount

	// Within the TTL the cached record is served; no new chain calls.
	now = now.Add(59 * time.Minute)
	_, err = svc.FetchBasicInfo(ctx, testAddress)
	require.NoError(t, err)
	require.Equal(t, callsAfterFirst, reader.CallCount)

	// After the TTL elapses the record is re-fetched.
	now = now.Add(2 * time.Minute)
	_, err = svc.FetchBasicInfo(ctx, testAddress)
	require.NoError(t, err)
	require.Greater(t, reader.CallCount, callsAfterFirst)
}

func TestFetchLogoWaterfallOrder(t *testing.T) {
	svc := newTestService(t, chaintest.New(), nil, nil)

	var calledC bool
	svc.logoSources = []LogoSource{
		func(context.Context, string, string) (string, error) {
			return "", errors.New("source a down")
		},
		func(context.Context, string, string) (string, error) {
			return "https://b.example/logo.png", nil
		},
		func(context.Context, string, string) (string, error) {
			calledC = true
			return "https://c.example/logo.png", nil
		},
	}

	logo, err := svc.FetchLogo(context.Background(), testAddress, "ALPHA")
	require.NoError(t, err)
	require.Equal(t, "https://b.example/logo.png", logo)
	require.False(t, calledC, "third source must not be called after second succeeds")
}

func TestFetchLogoPlaceholderDeterministic(t *testing.T) {
	svc := newTestService(t, chaintest.New(), nil, nil)
	svc.logoSources = []LogoSource{placeholderLogo}

	first, err := svc.FetchLogo(context.Background(), testAddress, "ALPHA")
	require.NoError(t, err)
	second, _ := placeholderLogo(context.Background(), "other", "ALPHA")
	require.Equal(t, first, second)
	require.NotEmpty(t, first)
}

func TestFetchDescriptionRejectsShort(t *testing.T) {
	short := &sourcetest.Client{ClientName: "short", Token: &model.RawToken{
		Address: model.NormalizeAddress(testAddress), Description: "too short",
	}}
	long := &sourcetest.Client{ClientName: "long", Token: &model.RawToken{
		Address:     model.NormalizeAddress(testAddress),
		Description: "A sufficiently long project description that clears the garbage threshold.",
	}}

	svc := newTestService(t, chaintest.New(), []source.Client{short, long}, nil)
	description, err := svc.FetchDescription(context.Background(), testAddress)
	require.NoError(t, err)
	require.Equal(t, long.Token.Description, description)
}

func TestFetchSocialLinksMerge(t *testing.T) {
	first := &sourcetest.Client{ClientName: "one", Token: &model.RawToken{
		Address: model.NormalizeAddress(testAddress),
		Socials: model.SocialLinks{Website: "https://a.com"},
	}}
	second := &sourcetest.Client{ClientName: "two", Token: &model.RawToken{
		Address: model.NormalizeAddress(testAddress),
		Socials: model.SocialLinks{Website: "https://ignored.com", Twitter: "@x"},
	}}

	svc := newTestService(t, chaintest.New(), []source.Client{first, second}, nil)
	socials, err := svc.FetchSocialLinks(context.Background(), testAddress)
	require.NoError(t, err)
	require.Equal(t, "https://a.com", socials.Website, "earlier source must not be overwritten")
	require.Equal(t, "@x", socials.Twitter)
}

func TestFetchSocialLinksEmptyNotCached(t *testing.T) {
	empty := &sourcetest.Client{ClientName: "empty"}
	svc := newTestService(t, chaintest.New(), []source.Client{empty}, nil)
	ctx := context.Background()

	_, err := svc.FetchSocialLinks(ctx, testAddress)
	require.NoError(t, err)

	// A second call hits the source again: emptiness is never cached.
	_, err = svc.FetchSocialLinks(ctx, testAddress)
	require.NoError(t, err)
	require.Equal(t, 2, empty.GetCalls)
}

func TestValidateContract(t *testing.T) {
	reader := chaintest.New()
	contract := common.HexToAddress(testAddress)
	reader.Code[contract] = []byte{0x60, 0x80}
	reader.SetReturn(contract, "symbol()", chaintest.EncodeString("OK"))

	svc := newTestService(t, reader, nil, nil)
	valid, err := svc.ValidateContract(context.Background(), testAddress)
	require.NoError(t, err)
	require.True(t, valid)
}

func TestValidateContractNoCode(t *testing.T) {
	svc := newTestService(t, chaintest.New(), nil, nil)
	valid, err := svc.ValidateContract(context.Background(), testAddress)
	require.NoError(t, err)
	require.False(t, valid)
}

func TestValidateContractNegativeCached(t *testing.T) {
	reader := chaintest.New()
	svc := newTestService(t, reader, nil, nil)
	ctx := context.Background()

	_, err := svc.ValidateContract(ctx, testAddress)
	require.NoError(t, err)
	calls := reader.CallCount

	// Second probe of a known-bad address is served from cache.
	_, err = svc.ValidateContract(ctx, testAddress)
	require.NoError(t, err)
	require.Equal(t, calls, reader.CallCount)
}

func TestEnrichInvalidWithoutSymbol(t *testing.T) {
	reader := chaintest.New()
	contract := common.HexToAddress(testAddress)
	// Contract answers with an empty symbol.
	reader.SetReturn(contract, "symbol()", chaintest.EncodeString(""))

	svc := newTestService(t, reader, nil, nil)
	_, err := svc.Enrich(context.Background(), testAddress)
	require.ErrorIs(t, err, ErrInvalidContract)
}

func TestEnrichPopulatesRecord(t *testing.T) {
	reader := chaintest.New()
	scriptBasicInfo(reader, "Doge Moon Token", "DOGEMOON", 9)

	src := &sourcetest.Client{Token: &model.RawToken{
		Address: model.NormalizeAddress(testAddress),
		Socials: model.SocialLinks{Twitter: "@dogemoon"},
	}}

	svc := newTestService(t, reader, []source.Client{src}, nil)
	svc.logoSources = []LogoSource{placeholderLogo}

	token, err := svc.Enrich(context.Background(), testAddress)
	require.NoError(t, err)
	require.Equal(t, model.NormalizeAddress(testAddress), token.Address)
	require.Equal(t, "DOGEMOON", token.Symbol)
	require.Equal(t, model.CategoryMeme, token.Category)
	require.Equal(t, "@dogemoon", token.Socials.Twitter)
	require.NotEmpty(t, token.LogoURI)
	require.False(t, token.Verification.IsVerified)
	require.Zero(t, token.Verification.Confidence)
	require.True(t, token.IsActive)
}
