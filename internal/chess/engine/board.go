package engine

// Board answers position questions for the adapters. Moves are coordinate strings
// ("e2e4", "e7e8q") and every method reads the position before the move is applied.
type Board interface {
	Variant() string
	Height() int
	FEN() string
	DefaultFEN() string
	SideToMove() Side
	ToSAN(move string) (string, error)
	FromSAN(san string) (string, error)
	MakeMove(move string) error
	Result() GameResult
	ResultAfter(move string) (GameResult, error)
}
