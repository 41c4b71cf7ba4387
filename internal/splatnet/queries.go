package splatnet

import (
	"encoding/json"
	"fmt"
)

// Persisted query hashes for the SplatNet3 GraphQL endpoint. The service
// accepts only these pre-registered sha256 identifiers, never inline query
// text.
var queryHashes = map[string]string{
	"HomeQuery":                   "51fc56bbf006caf37728914aa8bc0e2c86a80cf195b4d4027d6822a3623098a8",
	"LatestBattleHistoriesQuery":  "b24d22fd6cb251c515c2b90044039698aa27bc1fab15801d83014d919cd45780",
	"RegularBattleHistoriesQuery": "2fe6ea7a2de1d6a888b7bd3dbeb6acc8e3246f055ca39b80c4531bbcd0727bba",
	"BankaraBattleHistoriesQuery": "9863ea4744730743268e2940396e21b891104ed40e2286789f05100b45a0b0fd",
	"PrivateBattleHistoriesQuery": "fef94f39b9eeac6b2fac4de43bc0442c16a9f2df95f4d367dd8a79d7c5ed5ce7",
	"XBattleHistoriesQuery":       "eb5996a12705c2e94813a62e05c0dc419aad2811b8d49d53e5732290105559cb",
	"EventBattleHistoriesQuery":   "e47f9aac5599f75c842335ef0ab8f4c640e8bf2afe588a3b1d4b480ee79198ac",
	"VsHistoryDetailQuery":        "94faa2ff992222d11ced55e0f349920a82ac50f414ae33c83d1d1c9d8161c5dd",
	"PagerLatestVsDetailQuery":    "73462e18d464acfdf7ac36bde08a1859aa2872a90ed0baed69c94864c20de046",
	"CoopHistoryQuery":            "e11a8cf2c3de7348495dea5cdcaa25e0c153541c4ed63f044b6c174bc5b703df",
	"CoopHistoryDetailQuery":      "f2d55873a9281213ae27edc171e2b19131b3021a2ae263757543cdd3bf015cc8",
	"FriendListQuery":             "ea1297e9bb8e52404f52d89ac821e1d73b726ceef2fd9cc8d6b38ab253428fb3",
	"HistoryRecordQuery":          "a654ecc80161a7ca5c38761c1d9e502d405eae764e2d343618b9c74b1dc0a80f",
	"XRankingQuery":               "a5331ed228dbf2e904168efe166964e2be2b00460c578eee49fc0bc58b4b899c",
	"StageScheduleQuery":          "9b6b90568f990b2a14f04c25dd6eb53b35cc12ac815db85ececfccee64215edd",
	"StageRecordQuery":            "c8b31c491355b4d889306a22bd9003ac68f8ce31b2d5345017cdd30a2c8056f3",
	"WeaponRecordQuery":           "6b8db227bbe479401875e509a95c3183931e708ec222a824f8d4157cebea4584",
	"CatalogQuery":                "52c4b6a69b45e9f2c51f5efc6c7c3679bafb8e7d0ff8f31ce53a68b9bd945f9f",
}

type persistedQuery struct {
	SHA256Hash string `json:"sha256Hash"`
	Version    int    `json:"version"`
}

type queryExtensions struct {
	PersistedQuery persistedQuery `json:"persistedQuery"`
}

type queryBody struct {
	Extensions queryExtensions `json:"extensions"`
	Variables  map[string]any  `json:"variables"`
}

// queryRequestBody builds the JSON body for a persisted query. vars may be nil.
func queryRequestBody(queryName string, vars map[string]any) ([]byte, error) {
	hash, ok := queryHashes[queryName]
	if !ok {
		return nil, fmt.Errorf("unknown query %q", queryName)
	}
	if vars == nil {
		vars = map[string]any{}
	}
	return json.Marshal(queryBody{
		Extensions: queryExtensions{
			PersistedQuery: persistedQuery{SHA256Hash: hash, Version: 1},
		},
		Variables: vars,
	})
}
