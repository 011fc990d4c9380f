package rntbd

// HeaderDef is the static description of one named wire header (§3).
// Unknown ids on the wire instantiate an UndefinedHeader{Required: false}
// so decoding never fails on forward-compatible extensions (§3, §4.1).
type HeaderDef struct {
	ID       uint16
	Name     string
	Type     TokenType
	Required bool

	// PayloadBoundary marks the one header (PayloadPresent) whose wire
	// position is load-bearing: Encode always writes it last among the
	// Present headers, and decodeHeadersBounded relies on that ordering
	// to know where the header region ends and any payload begins (§4.2,
	// §6). No other header may set this.
	PayloadBoundary bool
}

// RequestHeader enumerates the closed set of named request headers this
// client knows about. Values are stable and must not be renumbered.
type RequestHeader int

const (
	RequestHeaderReplicaPath RequestHeader = iota
	RequestHeaderPayloadPresent
	RequestHeaderDate
	RequestHeaderContinuationToken
	RequestHeaderPageSize
	RequestHeaderSessionToken
	RequestHeaderContentSerializationFormat
	RequestHeaderResourceID
	RequestHeaderCollectionRID
	RequestHeaderIndexingDirective
	RequestHeaderIfMatch
	RequestHeaderIfNoneMatch
	RequestHeaderIsFanout
	RequestHeaderPartitionKey
	RequestHeaderPartitionKeyRangeID
	RequestHeaderConsistencyLevel
	RequestHeaderEnableScriptLogging
	RequestHeaderPopulateQuotaInfo
	RequestHeaderClientVersion
	RequestHeaderUserAgent
)

// ResponseHeader enumerates the closed set of named response headers this
// client knows about.
type ResponseHeader int

const (
	ResponseHeaderPayloadPresent ResponseHeader = iota
	ResponseHeaderLSN
	ResponseHeaderPartitionKeyRangeID
	ResponseHeaderSubStatus
	ResponseHeaderServerDate
	ResponseHeaderRequestCharge
	ResponseHeaderSessionToken
	ResponseHeaderContinuationToken
	ResponseHeaderItemCount
	ResponseHeaderSchemaVersion
	ResponseHeaderCollectionRID
	ResponseHeaderETag
	ResponseHeaderQuotaUsage
	ResponseHeaderQuotaMax
	ResponseHeaderRetryAfterMS
)

// requestHeaderDefs is the closed catalog of known request headers,
// keyed by RequestHeader, each carrying its numeric wire id (§3, §6). ReplicaPath is required: every
// request must name the physical replica it targets.
var requestHeaderDefs = map[RequestHeader]HeaderDef{
	RequestHeaderReplicaPath:                {ID: 1, Name: "ReplicaPath", Type: TokenTypeString, Required: true},
	RequestHeaderPayloadPresent:             {ID: 2, Name: "PayloadPresent", Type: TokenTypeByte, PayloadBoundary: true},
	RequestHeaderDate:                       {ID: 3, Name: "Date", Type: TokenTypeString},
	RequestHeaderContinuationToken:          {ID: 4, Name: "ContinuationToken", Type: TokenTypeString},
	RequestHeaderPageSize:                   {ID: 5, Name: "PageSize", Type: TokenTypeULong32},
	RequestHeaderSessionToken:               {ID: 6, Name: "SessionToken", Type: TokenTypeString},
	RequestHeaderContentSerializationFormat: {ID: 7, Name: "ContentSerializationFormat", Type: TokenTypeByte},
	RequestHeaderResourceID:                 {ID: 8, Name: "ResourceId", Type: TokenTypeString},
	RequestHeaderCollectionRID:              {ID: 9, Name: "CollectionRid", Type: TokenTypeString},
	RequestHeaderIndexingDirective:          {ID: 10, Name: "IndexingDirective", Type: TokenTypeByte},
	RequestHeaderIfMatch:                    {ID: 11, Name: "IfMatch", Type: TokenTypeString},
	RequestHeaderIfNoneMatch:                {ID: 12, Name: "IfNoneMatch", Type: TokenTypeString},
	RequestHeaderIsFanout:                   {ID: 13, Name: "IsFanout", Type: TokenTypeByte},
	RequestHeaderPartitionKey:               {ID: 14, Name: "PartitionKey", Type: TokenTypeString},
	RequestHeaderPartitionKeyRangeID:        {ID: 15, Name: "PartitionKeyRangeId", Type: TokenTypeString},
	RequestHeaderConsistencyLevel:           {ID: 16, Name: "ConsistencyLevel", Type: TokenTypeByte},
	RequestHeaderEnableScriptLogging:        {ID: 17, Name: "EnableScriptLogging", Type: TokenTypeByte},
	RequestHeaderPopulateQuotaInfo:          {ID: 18, Name: "PopulateQuotaInfo", Type: TokenTypeByte},
	RequestHeaderClientVersion:              {ID: 19, Name: "ClientVersion", Type: TokenTypeString},
	RequestHeaderUserAgent:                  {ID: 20, Name: "UserAgent", Type: TokenTypeString},
}

// responseHeaderDefs is the closed catalog of known response headers.
// None are required: every diagnostic/continuation header is optional
// server-supplied metadata (§3, §4.5).
var responseHeaderDefs = map[ResponseHeader]HeaderDef{
	ResponseHeaderPayloadPresent:      {ID: 1, Name: "PayloadPresent", Type: TokenTypeByte, PayloadBoundary: true},
	ResponseHeaderLSN:                 {ID: 2, Name: "LSN", Type: TokenTypeULong64},
	ResponseHeaderPartitionKeyRangeID: {ID: 3, Name: "PartitionKeyRangeId", Type: TokenTypeString},
	ResponseHeaderSubStatus:           {ID: 4, Name: "SubStatus", Type: TokenTypeULong32},
	ResponseHeaderServerDate:          {ID: 5, Name: "Date", Type: TokenTypeString},
	ResponseHeaderRequestCharge:       {ID: 6, Name: "RequestCharge", Type: TokenTypeDouble},
	ResponseHeaderSessionToken:        {ID: 7, Name: "SessionToken", Type: TokenTypeString},
	ResponseHeaderContinuationToken:   {ID: 8, Name: "ContinuationToken", Type: TokenTypeString},
	ResponseHeaderItemCount:           {ID: 9, Name: "ItemCount", Type: TokenTypeULong32},
	ResponseHeaderSchemaVersion:       {ID: 10, Name: "SchemaVersion", Type: TokenTypeString},
	ResponseHeaderCollectionRID:       {ID: 11, Name: "CollectionRid", Type: TokenTypeString},
	ResponseHeaderETag:                {ID: 12, Name: "ETag", Type: TokenTypeString},
	ResponseHeaderQuotaUsage:          {ID: 13, Name: "QuotaUsage", Type: TokenTypeString},
	ResponseHeaderQuotaMax:            {ID: 14, Name: "QuotaMax", Type: TokenTypeString},
	ResponseHeaderRetryAfterMS:        {ID: 15, Name: "RetryAfterInMilliseconds", Type: TokenTypeULong32},
}

// payloadPresentValue is the value of the distinguished PayloadPresent
// header (§6) that signals a payload immediately follows the header
// region.
const payloadPresentValue byte = 1

func requestCatalog() *HeaderCatalog[RequestHeader] {
	return newHeaderCatalog(requestHeaderDefs)
}

func responseCatalog() *HeaderCatalog[ResponseHeader] {
	return newHeaderCatalog(responseHeaderDefs)
}
