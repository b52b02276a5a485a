package store

const (
	KeyWager       = "wager:%s"
	KeyOpenWagers  = "wagers:open"
	KeyPartyWagers = "party:%s:wagers"
	KeyLedger      = "ledger:%s"

	// Owner of an item across all ledgers; absent when nobody holds it.
	KeyItemOwner = "item:%s:owner"

	// Party history keeps only the most recent entries.
	PartyHistorySize = 100

	// Optimistic transactions are retried this many times when a watched
	// key changes before EXEC.
	RedisTxRetries = 8
)
