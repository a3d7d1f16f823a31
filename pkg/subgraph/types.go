package subgraph

// Raw indexer payloads. Amounts are base-unit integer strings and timestamps
// are unix seconds, exactly as the indexer returns them.

// Ref is a reference to another entity by id.
type Ref struct {
	ID string `json:"id"`
}

// OperatorRef references an operator together with its metadata URI.
type OperatorRef struct {
	ID          string `json:"id"`
	MetadataURI string `json:"metadataURI"`
}

// DelegationEvent is a single delegation of shares to an operator.
type DelegationEvent struct {
	ID              string      `json:"id"`
	Delegator       Ref         `json:"delegator"`
	Operator        OperatorRef `json:"operator"`
	Shares          string      `json:"shares"`
	CreatedAt       string      `json:"createdAt"`
	TransactionHash string      `json:"transactionHash"`
	BlockNumber     string      `json:"blockNumber"`
}

// Deposit is a staker deposit into a strategy.
type Deposit struct {
	ID              string `json:"id"`
	Strategy        Ref    `json:"strategy"`
	Shares          string `json:"shares"`
	TransactionHash string `json:"transactionHash"`
	BlockNumber     string `json:"blockNumber"`
	CreatedAt       string `json:"createdAt"`
}

// Staker is a wallet with its deposits. DelegatedTo is nil while the staker
// has not delegated to any operator.
type Staker struct {
	ID          string    `json:"id"`
	Shares      string    `json:"shares"`
	Strategies  []Ref     `json:"strategies"`
	DelegatedTo *Ref      `json:"delegatedTo"`
	Deposits    []Deposit `json:"deposits"`
}

// Operator is an operator as registered on chain.
type Operator struct {
	ID              string `json:"id"`
	MetadataURI     string `json:"metadataURI"`
	DelegatedShares string `json:"delegatedShares"`
	OperatorShares  string `json:"operatorShares"`
	TotalShares     string `json:"totalShares"`
	CreatedAt       string `json:"createdAt"`
	BlockNumber     string `json:"blockNumber"`
	TransactionHash string `json:"transactionHash"`
}

// Slashing is a penalty applied to an operator.
type Slashing struct {
	ID              string `json:"id"`
	Operator        Ref    `json:"operator"`
	Amount          string `json:"amount"`
	CreatedAt       string `json:"createdAt"`
	TransactionHash string `json:"transactionHash"`
	BlockNumber     string `json:"blockNumber"`
}

// DelegationsPage is one page of the delegations query.
type DelegationsPage struct {
	Delegations []DelegationEvent `json:"delegations"`
	Stakers     []Staker          `json:"stakers"`
}

// HasMore reports whether any result set filled the page.
func (p DelegationsPage) HasMore(pageSize int) bool {
	return len(p.Delegations) >= pageSize || len(p.Stakers) >= pageSize
}

// OperatorsPage is one page of the operators query.
type OperatorsPage struct {
	Operators []Operator `json:"operators"`
	Slashings []Slashing `json:"slashings"`
}

// HasMore reports whether any result set filled the page.
func (p OperatorsPage) HasMore(pageSize int) bool {
	return len(p.Operators) >= pageSize || len(p.Slashings) >= pageSize
}
