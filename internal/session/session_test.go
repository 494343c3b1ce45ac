package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"k8s.io/utils/ptr"

	"github.com/pcartwright81/Home-Assistant-Here-Comes-The-Bus/internal/hcb"
	"github.com/pcartwright81/Home-Assistant-Here-Comes-The-Bus/internal/hcb/mocks"
	"github.com/pcartwright81/Home-Assistant-Here-Comes-The-Bus/internal/schedule"
	"github.com/pcartwright81/Home-Assistant-Here-Comes-The-Bus/internal/student"
)

var creds = Credentials{SchoolCode: "ABC123", Username: "parent", Password: "secret"}

func at(h, m int) civil.Time {
	return civil.Time{Hour: h, Minute: m}
}

func stops(token hcb.SegmentToken, first, last civil.Time) []hcb.Stop {
	return []hcb.Stop{
		{Type: hcb.StopTypeStop, Token: token, ScheduledStart: first},
		{Type: hcb.StopTypeSchool, Token: token, ScheduledStart: last},
	}
}

func expectLogin(client *mocks.MockClient, students ...hcb.Student) {
	client.EXPECT().ResolveSchool(gomock.Any(), "ABC123").Return("SCH-1", nil)
	client.EXPECT().ResolveParent(gomock.Any(), "SCH-1", "parent", "secret").
		Return(&hcb.ParentInfo{AccountID: "PAR-1", Students: students}, nil)
}

func TestBootstrap(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	client := mocks.NewMockClient(ctrl)
	expectLogin(client, hcb.Student{ID: "STU-1", FirstName: "Alice"}, hcb.Student{ID: "STU-2", FirstName: "Bob"})

	logTime := civil.DateTime{Date: civil.Date{Year: 2024, Month: time.October, Day: 29}, Time: at(15, 5)}
	for _, id := range []string{"STU-1", "STU-2"} {
		client.EXPECT().FetchStops(gomock.Any(), "SCH-1", "PAR-1", id, hcb.TokenAM).
			Return(&hcb.StopResponse{
				VehicleLocation: &hcb.Location{BusName: ptr.To("Morning bus"), Address: ptr.To("1 Main St")},
				Stops:           stops(hcb.TokenAM, at(7, 15), at(7, 45)),
			}, nil)
	}
	client.EXPECT().FetchStops(gomock.Any(), "SCH-1", "PAR-1", "STU-1", hcb.TokenMid).
		Return(&hcb.StopResponse{}, nil)
	client.EXPECT().FetchStops(gomock.Any(), "SCH-1", "PAR-1", "STU-2", hcb.TokenMid).
		Return(&hcb.StopResponse{Stops: stops(hcb.TokenMid, at(11, 30), at(12, 0))}, nil)
	for _, id := range []string{"STU-1", "STU-2"} {
		client.EXPECT().FetchStops(gomock.Any(), "SCH-1", "PAR-1", id, hcb.TokenPM).
			Return(&hcb.StopResponse{
				VehicleLocation: &hcb.Location{BusName: ptr.To("Afternoon bus"), LogTime: &logTime},
				Stops:           stops(hcb.TokenPM, at(14, 50), at(15, 40)),
			}, nil)
	}

	result, err := NewBootstrapper(client, time.UTC).Bootstrap(context.Background(), creds)
	require.NoError(t, err)

	assert.Equal(t, Session{SchoolID: "SCH-1", ParentID: "PAR-1"}, result.Session)
	require.Len(t, result.Students, 2)

	alice := result.Students["STU-1"]
	assert.Equal(t, "Alice", alice.FirstName)
	assert.Equal(t, schedule.Window{Start: at(6, 45), End: at(8, 15)}, alice.AM.Window)
	assert.Equal(t, schedule.Window{Start: at(14, 20), End: at(16, 10)}, alice.PM.Window)
	assert.False(t, alice.HasMidStops)
	assert.Equal(t, "Afternoon bus", *alice.Telemetry.BusName, "last segment carrying a location wins")
	assert.Equal(t, "1 Main St", *alice.Telemetry.Address, "fields missing later are kept")
	assert.Equal(t, time.Date(2024, time.October, 29, 15, 5, 0, 0, time.UTC), *alice.Telemetry.LogTime)

	bob := result.Students["STU-2"]
	assert.True(t, bob.HasMidStops)
	assert.Equal(t, schedule.Window{Start: at(11, 0), End: at(12, 30)}, bob.Mid.Window)
}

func TestBootstrapErrors(t *testing.T) {
	t.Parallel()

	alice := hcb.Student{ID: "STU-1", FirstName: "Alice"}

	tests := []struct {
		name      string
		setup     func(client *mocks.MockClient)
		wantFatal bool
		check     func(t *testing.T, err error)
	}{
		{
			name: "unknown school code",
			setup: func(client *mocks.MockClient) {
				client.EXPECT().ResolveSchool(gomock.Any(), "ABC123").
					Return("", &hcb.ResolutionError{SchoolCode: "ABC123"})
			},
			wantFatal: true,
			check: func(t *testing.T, err error) {
				var resErr *hcb.ResolutionError
				assert.ErrorAs(t, err, &resErr)
			},
		},
		{
			name: "bad credentials",
			setup: func(client *mocks.MockClient) {
				client.EXPECT().ResolveSchool(gomock.Any(), "ABC123").Return("SCH-1", nil)
				client.EXPECT().ResolveParent(gomock.Any(), "SCH-1", "parent", "secret").
					Return(nil, &hcb.AuthError{Username: "parent"})
			},
			wantFatal: true,
			check: func(t *testing.T, err error) {
				var authErr *hcb.AuthError
				assert.ErrorAs(t, err, &authErr)
			},
		},
		{
			name: "empty pm schedule",
			setup: func(client *mocks.MockClient) {
				expectLogin(client, alice)
				client.EXPECT().FetchStops(gomock.Any(), gomock.Any(), gomock.Any(), "STU-1", hcb.TokenAM).
					Return(&hcb.StopResponse{Stops: stops(hcb.TokenAM, at(7, 15), at(7, 45))}, nil)
				client.EXPECT().FetchStops(gomock.Any(), gomock.Any(), gomock.Any(), "STU-1", hcb.TokenMid).
					Return(&hcb.StopResponse{}, nil)
				client.EXPECT().FetchStops(gomock.Any(), gomock.Any(), gomock.Any(), "STU-1", hcb.TokenPM).
					Return(&hcb.StopResponse{}, nil)
			},
			check: func(t *testing.T, err error) {
				var empty *EmptyScheduleError
				require.ErrorAs(t, err, &empty)
				assert.Equal(t, "STU-1", empty.StudentID)
				assert.Equal(t, schedule.PM, empty.Segment)
				assert.ErrorIs(t, err, student.ErrNoStops)
			},
		},
		{
			name: "transport failure",
			setup: func(client *mocks.MockClient) {
				expectLogin(client, alice)
				client.EXPECT().FetchStops(gomock.Any(), gomock.Any(), gomock.Any(), "STU-1", hcb.TokenAM).
					Return(nil, errors.New("connection reset"))
			},
			check: func(t *testing.T, err error) {
				assert.ErrorContains(t, err, "failed to fetch am stops for student STU-1")
			},
		},
		{
			name: "malformed schedule",
			setup: func(client *mocks.MockClient) {
				expectLogin(client, alice)
				client.EXPECT().FetchStops(gomock.Any(), gomock.Any(), gomock.Any(), "STU-1", hcb.TokenAM).
					Return(&hcb.StopResponse{Stops: stops(hcb.TokenPM, at(15, 0), at(15, 30))}, nil)
			},
			check: func(t *testing.T, err error) {
				assert.ErrorContains(t, err, "invalid am stops")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctrl := gomock.NewController(t)
			client := mocks.NewMockClient(ctrl)
			tt.setup(client)

			result, err := NewBootstrapper(client, time.UTC).Bootstrap(context.Background(), creds)
			require.Error(t, err)
			assert.Nil(t, result)
			assert.Equal(t, tt.wantFatal, IsFatal(err))
			tt.check(t, err)
		})
	}
}

func TestTestCredentials(t *testing.T) {
	t.Parallel()

	t.Run("accepted", func(t *testing.T) {
		t.Parallel()

		client := mocks.NewMockClient(gomock.NewController(t))
		expectLogin(client)

		ok, err := NewBootstrapper(client, time.UTC).TestCredentials(context.Background(), creds)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("rejected", func(t *testing.T) {
		t.Parallel()

		client := mocks.NewMockClient(gomock.NewController(t))
		client.EXPECT().ResolveSchool(gomock.Any(), gomock.Any()).Return("SCH-1", nil)
		client.EXPECT().ResolveParent(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			Return(nil, &hcb.AuthError{Username: "parent"})

		ok, err := NewBootstrapper(client, time.UTC).TestCredentials(context.Background(), creds)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("service unavailable", func(t *testing.T) {
		t.Parallel()

		client := mocks.NewMockClient(gomock.NewController(t))
		client.EXPECT().ResolveSchool(gomock.Any(), gomock.Any()).
			Return("", &hcb.StatusError{StatusCode: 503})

		ok, err := NewBootstrapper(client, time.UTC).TestCredentials(context.Background(), creds)
		require.Error(t, err)
		assert.False(t, ok)
	})
}
