package chi

import (
	"errors"
	"fmt"
	"time"

	"github.com/fuseline/fuseline/internal/domain"
	"github.com/fuseline/fuseline/internal/domain/search/filter"
	"github.com/fuseline/fuseline/internal/domain/search/request"
	"github.com/fuseline/fuseline/internal/domain/search/result"
)

// searchRequestDTO is the POST /v1/search body.
type searchRequestDTO struct {
	Query        string             `json:"query"`
	Filters      []filterDTO        `json:"filters,omitempty"`
	Conversation []string           `json:"conversation,omitempty"`
	Limit        *int               `json:"limit,omitempty"`
	TopK         *int               `json:"top_k,omitempty"`
	Weights      map[string]float64 `json:"weights,omitempty"`
}

// filterDTO is one filter condition. Exactly one of match/in/range/bool must
// be set.
type filterDTO struct {
	Key   string    `json:"key"`
	Match *string   `json:"match,omitempty"`
	In    []string  `json:"in,omitempty"`
	Range *rangeDTO `json:"range,omitempty"`
	Bool  *bool     `json:"bool,omitempty"`
}

type rangeDTO struct {
	GT  *float64 `json:"gt,omitempty"`
	GTE *float64 `json:"gte,omitempty"`
	LT  *float64 `json:"lt,omitempty"`
	LTE *float64 `json:"lte,omitempty"`
}

func (d *searchRequestDTO) toDomain(defaults domain.Weights) (*request.Request, error) {
	filters, err := filtersFromDTO(d.Filters)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidRequest, err)
	}

	if d.Limit != nil && (*d.Limit <= 0 || *d.Limit > request.MaxLimit) {
		return nil, fmt.Errorf("%w: limit must be between 1 and %d", domain.ErrInvalidRequest, request.MaxLimit)
	}
	if d.TopK != nil && (*d.TopK <= 0 || *d.TopK > request.MaxTopK) {
		return nil, fmt.Errorf("%w: top_k must be between 1 and %d", domain.ErrInvalidRequest, request.MaxTopK)
	}

	overrides := make(domain.Weights, len(d.Weights))
	for name, w := range d.Weights {
		sig := domain.Signal(name)
		if !sig.IsValid() {
			return nil, fmt.Errorf("%w: unknown signal %q in weights", domain.ErrInvalidRequest, name)
		}
		if w < 0 {
			return nil, fmt.Errorf("%w: weight for %q must be non-negative", domain.ErrInvalidRequest, name)
		}
		overrides[sig] = w
	}

	req, err := request.New(
		d.Query,
		filters,
		request.NewConversation(d.Conversation),
		derefInt(d.Limit),
		derefInt(d.TopK),
		defaults.Merge(overrides),
	)
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	return &req, nil
}

func filtersFromDTO(dtos []filterDTO) (filter.Expression, error) {
	if len(dtos) == 0 {
		return filter.Expression{}, nil
	}

	conditions := make([]filter.Condition, 0, len(dtos))
	for _, d := range dtos {
		cond, err := conditionFromDTO(d)
		if err != nil {
			return filter.Expression{}, err
		}
		conditions = append(conditions, cond)
	}

	expr, err := filter.NewExpression(conditions)
	if err != nil {
		return filter.Expression{}, fmt.Errorf("new expression: %w", err)
	}
	return expr, nil
}

func conditionFromDTO(d filterDTO) (filter.Condition, error) {
	set := 0
	if d.Match != nil {
		set++
	}
	if len(d.In) > 0 {
		set++
	}
	if d.Range != nil {
		set++
	}
	if d.Bool != nil {
		set++
	}
	if set != 1 {
		return filter.Condition{},
			fmt.Errorf("filter condition for %q must set exactly one of match, in, range, bool", d.Key)
	}

	switch {
	case d.Match != nil:
		cond, err := filter.NewMatch(d.Key, *d.Match)
		if err != nil {
			return filter.Condition{}, fmt.Errorf("match filter: %w", err)
		}
		return cond, nil
	case len(d.In) > 0:
		cond, err := filter.NewEnum(d.Key, d.In)
		if err != nil {
			return filter.Condition{}, fmt.Errorf("in filter: %w", err)
		}
		return cond, nil
	case d.Range != nil:
		r, err := filter.NewRangeBounds(d.Range.GT, d.Range.GTE, d.Range.LT, d.Range.LTE)
		if err != nil {
			return filter.Condition{}, fmt.Errorf("range filter: %w", err)
		}
		cond, err := filter.NewRange(d.Key, r)
		if err != nil {
			return filter.Condition{}, fmt.Errorf("range condition: %w", err)
		}
		return cond, nil
	case d.Bool != nil:
		cond, err := filter.NewBool(d.Key, *d.Bool)
		if err != nil {
			return filter.Condition{}, fmt.Errorf("bool filter: %w", err)
		}
		return cond, nil
	}
	return filter.Condition{}, errors.New("unreachable")
}

// searchResponseDTO is the POST /v1/search response body.
type searchResponseDTO struct {
	Results         []resultItemDTO `json:"results"`
	TotalCandidates int             `json:"total_candidates"`
	Degraded        []string        `json:"degraded,omitempty"`
	Contextual      bool            `json:"contextual"`
	Truncated       bool            `json:"truncated,omitempty"`
	Provenance      string          `json:"provenance"`
	Breakdown       breakdownDTO    `json:"breakdown"`
}

type resultItemDTO struct {
	ItemID  string         `json:"item_id"`
	Score   float64        `json:"score"`
	Rank    int            `json:"rank"`
	Signals []hitDetailDTO `json:"signals,omitempty"`
}

type hitDetailDTO struct {
	Signal string  `json:"signal"`
	Score  float64 `json:"score"`
	Rank   int     `json:"rank"`
}

type breakdownDTO struct {
	ExpandMS   float64 `json:"expand_ms"`
	EmbedMS    float64 `json:"embed_ms"`
	RetrieveMS float64 `json:"retrieve_ms"`
	FuseMS     float64 `json:"fuse_ms"`
	RerankMS   float64 `json:"rerank_ms"`
	TotalMS    float64 `json:"total_ms"`
}

type healthResponseDTO struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func responseToDTO(resp *result.Response) searchResponseDTO {
	items := make([]resultItemDTO, len(resp.Results))
	for i, f := range resp.Results {
		signals := make([]hitDetailDTO, len(f.Hits))
		for j, h := range f.Hits {
			signals[j] = hitDetailDTO{
				Signal: string(h.Signal),
				Score:  h.Score,
				Rank:   h.Rank,
			}
		}
		items[i] = resultItemDTO{
			ItemID:  f.ItemID,
			Score:   f.Score,
			Rank:    f.Rank,
			Signals: signals,
		}
	}

	degraded := make([]string, len(resp.Degraded))
	for i, sig := range resp.Degraded {
		degraded[i] = string(sig)
	}

	b := resp.Breakdown
	return searchResponseDTO{
		Results:         items,
		TotalCandidates: resp.TotalCandidates,
		Degraded:        degraded,
		Contextual:      resp.Contextual,
		Truncated:       resp.Truncated,
		Provenance:      string(resp.Provenance),
		Breakdown: breakdownDTO{
			ExpandMS:   ms(b.Expand),
			EmbedMS:    ms(b.Embed),
			RetrieveMS: ms(b.Retrieve),
			FuseMS:     ms(b.Fuse),
			RerankMS:   ms(b.Rerank),
			TotalMS:    ms(b.Total),
		},
	}
}

func ms(d time.Duration) float64 {
	return float64(d.Nanoseconds()) / 1e6
}

func derefInt(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
