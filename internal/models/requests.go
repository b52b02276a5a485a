package models

type CreateWagerRequest struct {
	Items []Item `json:"items" binding:"required,min=1"`
	Side  Side   `json:"side" binding:"required,oneof=heads tails"`
}

type JoinWagerRequest struct {
	Items      []Item `json:"items" binding:"required,min=1"`
	ClientSeed string `json:"client_seed" binding:"max=128"`
}

type VerifyRequest struct {
	ServerSeed     string `json:"server_seed" binding:"required"`
	ServerSeedHash string `json:"server_seed_hash" binding:"required"`
	ClientSeed     string `json:"client_seed" binding:"required"`
}

type VerifyResponse struct {
	Valid       bool    `json:"valid"`
	Outcome     float64 `json:"outcome"`
	WinningSide Side    `json:"winning_side"`
}
