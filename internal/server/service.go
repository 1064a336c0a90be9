package server

import (
	"RaffleLedger/internal/core"
	"RaffleLedger/internal/ingestion"
	"RaffleLedger/internal/persistence"
	"RaffleLedger/internal/projection"
	"RaffleLedger/internal/query"
	"RaffleLedger/internal/state"
	"context"
	"crypto/subtle"
	"database/sql"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// RaffleServiceServer is the raffle.v1.RaffleService API.
type RaffleServiceServer interface {
	SubmitCommand(context.Context, *SubmitCommandRequest) (*CommandReply, error)
	CreateRaffle(context.Context, *CreateRaffleRequest) (*query.RaffleView, error)
	GetRaffle(context.Context, *RaffleRequest) (*query.RaffleView, error)
	GetEntryRanges(context.Context, *RaffleRequest) (*EntryRangesReply, error)
	GetClaimable(context.Context, *ParticipantRequest) (*query.ClaimableResponse, error)
	GetReserves(context.Context, *RaffleRequest) (*query.ReserveResponse, error)
	ListRaffles(context.Context, *ListRafflesRequest) (*ListRafflesReply, error)
	ListEvents(context.Context, *ListEventsRequest) (*ListEventsReply, error)
	ListJournals(context.Context, *ListJournalsRequest) (*ListJournalsReply, error)
	ListDirectory(context.Context, *ListDirectoryRequest) (*ListDirectoryReply, error)
	VerifyIntegrity(context.Context, *RaffleRequest) (*query.IntegrityReport, error)
	RebuildProjections(context.Context, *RebuildProjectionsRequest) (*RebuildProjectionsReply, error)
}

// RaffleCreator creates raffles. *core.Manager implements it.
type RaffleCreator interface {
	CreateRaffle(ctx context.Context, params core.CreateParams) (*core.Raffle, error)
}

// DirectoryLister pages through registered raffles.
type DirectoryLister interface {
	List(ctx context.Context, offset, limit int) ([]persistence.DirectoryEntry, error)
}

// adminTokenHeader carries the admin token in gRPC metadata and HTTP headers.
const adminTokenHeader = "x-admin-token"

type raffleService struct {
	creator    RaffleCreator
	queries    *query.QueryService
	ingest     *ingestion.GRPCIngestService
	directory  DirectoryLister
	db         *sql.DB
	adminToken string
	logger     zerolog.Logger
}

var _ RaffleServiceServer = (*raffleService)(nil)

func (s *raffleService) SubmitCommand(ctx context.Context, req *SubmitCommandRequest) (*CommandReply, error) {
	if len(req.Command) == 0 {
		return nil, status.Error(codes.InvalidArgument, "command is required")
	}
	res, err := s.ingest.Submit(ctx, req.Command)
	if err != nil {
		return nil, StatusFromError(err)
	}

	reply := &CommandReply{
		RaffleID:  res.RaffleID.String(),
		Command:   res.Command,
		Duplicate: res.Duplicate,
		TotalSold: res.TotalSold,
		Amount:    res.Amount,
		Outcome:   res.Outcome,
	}
	if fr := res.Finalize; fr != nil {
		reply.Canceled = fr.Canceled
		reply.RequestID = fr.RequestID
		reply.Fee = fr.Fee
		reply.ExcessRefunded = fr.ExcessRefunded
		reply.ExcessCredited = fr.ExcessCredited
		if fr.Canceled {
			reply.Amount = fr.PrizeRefunded
		}
	}
	return reply, nil
}

func (s *raffleService) CreateRaffle(ctx context.Context, req *CreateRaffleRequest) (*query.RaffleView, error) {
	if err := s.authorizeAdmin(ctx); err != nil {
		return nil, err
	}

	params := core.CreateParams{Config: req.Config, Classification: req.Classification}
	var err error
	if params.Operator, err = parseUUID("operator", req.Operator, true); err != nil {
		return nil, err
	}
	if params.RaffleID, err = parseUUID("raffle_id", req.RaffleID, false); err != nil {
		return nil, err
	}
	if params.Admin, err = parseUUID("admin", req.Admin, false); err != nil {
		return nil, err
	}
	if params.Provider, err = parseUUID("provider", req.Provider, false); err != nil {
		return nil, err
	}

	r, err := s.creator.CreateRaffle(ctx, params)
	if err != nil {
		return nil, StatusFromError(err)
	}
	view, err := s.queries.GetRaffle(ctx, r.ID())
	if err != nil {
		return nil, StatusFromError(err)
	}
	return view, nil
}

func (s *raffleService) GetRaffle(ctx context.Context, req *RaffleRequest) (*query.RaffleView, error) {
	id, err := parseUUID("raffle_id", req.RaffleID, true)
	if err != nil {
		return nil, err
	}
	view, err := s.queries.GetRaffle(ctx, id)
	if err != nil {
		return nil, StatusFromError(err)
	}
	return view, nil
}

func (s *raffleService) GetEntryRanges(ctx context.Context, req *RaffleRequest) (*EntryRangesReply, error) {
	id, err := parseUUID("raffle_id", req.RaffleID, true)
	if err != nil {
		return nil, err
	}
	ranges, err := s.queries.GetEntryRanges(ctx, id)
	if err != nil {
		return nil, StatusFromError(err)
	}
	return &EntryRangesReply{RaffleID: req.RaffleID, Ranges: ranges}, nil
}

func (s *raffleService) GetClaimable(ctx context.Context, req *ParticipantRequest) (*query.ClaimableResponse, error) {
	id, err := parseUUID("raffle_id", req.RaffleID, true)
	if err != nil {
		return nil, err
	}
	participant, err := parseUUID("participant", req.Participant, true)
	if err != nil {
		return nil, err
	}
	resp, err := s.queries.GetClaimable(ctx, id, participant)
	if err != nil {
		return nil, StatusFromError(err)
	}
	return resp, nil
}

func (s *raffleService) GetReserves(ctx context.Context, req *RaffleRequest) (*query.ReserveResponse, error) {
	id, err := parseUUID("raffle_id", req.RaffleID, true)
	if err != nil {
		return nil, err
	}
	resp, err := s.queries.GetReserves(ctx, id)
	if err != nil {
		return nil, StatusFromError(err)
	}
	return resp, nil
}

func (s *raffleService) ListRaffles(ctx context.Context, req *ListRafflesRequest) (*ListRafflesReply, error) {
	list, err := s.queries.ListRaffles(ctx, req.State, pageSize(req.PageSize, 50, 200))
	if err != nil {
		return nil, StatusFromError(err)
	}
	return &ListRafflesReply{Raffles: list}, nil
}

func (s *raffleService) ListEvents(ctx context.Context, req *ListEventsRequest) (*ListEventsReply, error) {
	id, err := parseUUID("raffle_id", req.RaffleID, true)
	if err != nil {
		return nil, err
	}
	if req.FromSequence < 0 {
		return nil, status.Error(codes.InvalidArgument, "from_sequence must not be negative")
	}
	events, err := s.queries.GetEventHistory(ctx, id, req.FromSequence-1, pageSize(req.PageSize, 100, 500))
	if err != nil {
		return nil, StatusFromError(err)
	}
	return &ListEventsReply{Events: events}, nil
}

func (s *raffleService) ListJournals(ctx context.Context, req *ListJournalsRequest) (*ListJournalsReply, error) {
	id, err := parseUUID("raffle_id", req.RaffleID, true)
	if err != nil {
		return nil, err
	}
	participant, err := parseUUID("participant", req.Participant, true)
	if err != nil {
		return nil, err
	}
	var before *int64
	if req.BeforeSequence > 0 {
		before = &req.BeforeSequence
	}
	journals, err := s.queries.GetJournalHistory(ctx, id, participant, before, pageSize(req.PageSize, 100, 500))
	if err != nil {
		return nil, StatusFromError(err)
	}
	return &ListJournalsReply{Journals: journals}, nil
}

func (s *raffleService) ListDirectory(ctx context.Context, req *ListDirectoryRequest) (*ListDirectoryReply, error) {
	if s.directory == nil {
		return nil, status.Error(codes.Unavailable, "directory not configured")
	}
	if req.Offset < 0 {
		return nil, status.Error(codes.InvalidArgument, "offset must not be negative")
	}
	entries, err := s.directory.List(ctx, int(req.Offset), pageSize(req.PageSize, 100, 1000))
	if err != nil {
		return nil, StatusFromError(err)
	}
	return &ListDirectoryReply{Entries: entries}, nil
}

func (s *raffleService) VerifyIntegrity(ctx context.Context, req *RaffleRequest) (*query.IntegrityReport, error) {
	id, err := parseUUID("raffle_id", req.RaffleID, true)
	if err != nil {
		return nil, err
	}
	report, err := s.queries.VerifyIntegrity(ctx, id)
	if err != nil {
		return nil, StatusFromError(err)
	}
	return report, nil
}

func (s *raffleService) RebuildProjections(ctx context.Context, req *RebuildProjectionsRequest) (*RebuildProjectionsReply, error) {
	if err := s.authorizeAdmin(ctx); err != nil {
		return nil, err
	}
	if s.db == nil {
		return nil, status.Error(codes.Unavailable, "no database configured")
	}
	if err := projection.RebuildProjections(ctx, s.db, s.logger); err != nil {
		return nil, status.Errorf(codes.Internal, "rebuild failed: %v", err)
	}
	return &RebuildProjectionsReply{Completed: true}, nil
}

// authorizeAdmin checks the admin token. Without a configured token the
// admin RPCs are disabled.
func (s *raffleService) authorizeAdmin(ctx context.Context) error {
	if s.adminToken == "" {
		return status.Error(codes.PermissionDenied, "admin API disabled")
	}
	md, _ := metadata.FromIncomingContext(ctx)
	values := md.Get(adminTokenHeader)
	if len(values) == 0 || subtle.ConstantTimeCompare([]byte(values[0]), []byte(s.adminToken)) != 1 {
		return status.Error(codes.PermissionDenied, "invalid admin token")
	}
	return nil
}

// StatusFromError maps engine and query errors to gRPC status codes.
func StatusFromError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	cause := errors.Cause(err)
	switch cause {
	case ingestion.ErrMalformedCommand:
		return status.Error(codes.InvalidArgument, err.Error())
	case query.ErrNoHistory:
		return status.Error(codes.Unavailable, err.Error())
	case state.ErrUnknownRaffle:
		return status.Error(codes.NotFound, err.Error())
	case state.ErrRaffleExists:
		return status.Error(codes.AlreadyExists, err.Error())
	}

	switch state.KindOf(err) {
	case state.KindConfiguration, state.KindInvalidArgument:
		return status.Error(codes.InvalidArgument, err.Error())
	case state.KindState:
		return status.Error(codes.FailedPrecondition, err.Error())
	case state.KindAuthorization:
		return status.Error(codes.PermissionDenied, err.Error())
	case state.KindPayment:
		return status.Error(codes.Aborted, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func parseUUID(field, s string, required bool) (uuid.UUID, error) {
	if s == "" {
		if required {
			return uuid.Nil, status.Errorf(codes.InvalidArgument, "%s is required", field)
		}
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, status.Errorf(codes.InvalidArgument, "invalid %s: %v", field, err)
	}
	return id, nil
}

func pageSize(requested int32, def, max int) int {
	n := int(requested)
	if n <= 0 || n > max {
		return def
	}
	return n
}
