package subgraph

const delegationsQuery = `query Delegations($first: Int!, $skip: Int!) {
  delegations(first: $first, skip: $skip, orderBy: createdAt, orderDirection: desc) {
    id
    delegator { id }
    operator { id metadataURI }
    shares
    createdAt
    transactionHash
    blockNumber
  }
  stakers(first: $first, skip: $skip, orderBy: createdAt, orderDirection: desc) {
    id
    shares
    strategies { id }
    delegatedTo { id }
    deposits {
      id
      strategy { id }
      shares
      transactionHash
      blockNumber
      createdAt
    }
  }
}`

const operatorsQuery = `query Operators($first: Int!, $skip: Int!) {
  operators(first: $first, skip: $skip, orderBy: createdAt, orderDirection: desc) {
    id
    metadataURI
    delegatedShares
    operatorShares
    totalShares
    createdAt
    blockNumber
    transactionHash
  }
  slashings(first: $first, skip: $skip, orderBy: createdAt, orderDirection: desc) {
    id
    operator { id }
    amount
    createdAt
    transactionHash
    blockNumber
  }
}`
