package gateway

import "github.com/iepose/aigcd/internal/domain"

// Target describes where a job type runs and how many magic points it costs.
// The URL and cost are frozen onto the job row at admission, so later
// registry changes never affect jobs already submitted.
type Target struct {
	URL  string
	Cost int
}

// Registry maps job types to their inference targets.
type Registry map[domain.JobType]Target

// NewRegistry builds the registry for the known job types against the
// configured inference cluster base URL.
func NewRegistry(baseURL string) Registry {
	return Registry{
		domain.JobTypeReplaceWithAny:       {URL: baseURL + "/replace_with_any", Cost: 1},
		domain.JobTypeReplaceWithReference: {URL: baseURL + "/replace_with_reference", Cost: 1},
		domain.JobTypeSegmentAny:           {URL: baseURL + "/segment_any", Cost: 1},
		domain.JobTypeImageToVideo:         {URL: baseURL + "/wan_video_i2v", Cost: 5},
		domain.JobTypeEditWithPrompt:       {URL: baseURL + "/edit_with_prompt", Cost: 1},
	}
}
