package producers

import (
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockTopicAdmin struct {
	mock.Mock
}

func (m *mockTopicAdmin) ReadPartitions(topics ...string) ([]kafka.Partition, error) {
	args := m.Called(topics)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]kafka.Partition), args.Error(1)
}

func (m *mockTopicAdmin) CreateTopics(topics ...kafka.TopicConfig) error {
	args := m.Called(topics)
	return args.Error(0)
}

func TestEnsureTopic(t *testing.T) {
	topicReadBackoff = 0

	t.Run("ExistingTopic", func(t *testing.T) {
		admin := new(mockTopicAdmin)
		admin.On("ReadPartitions", []string{"ledger_events"}).Return([]kafka.Partition{{Topic: "ledger_events"}}, nil).Once()

		require.NoError(t, ensureTopic(admin, "ledger_events", 3, 1, newTestLogger()))
		admin.AssertNotCalled(t, "CreateTopics", mock.Anything)
		admin.AssertExpectations(t)
	})

	t.Run("CreatesMissingTopicWithDefaults", func(t *testing.T) {
		admin := new(mockTopicAdmin)
		admin.On("ReadPartitions", []string{"ledger_sync_dlq"}).Return(nil, errors.New("unknown topic")).Times(topicReadAttempts)
		admin.On("CreateTopics", []kafka.TopicConfig{{Topic: "ledger_sync_dlq", NumPartitions: 1, ReplicationFactor: 1}}).Return(nil).Once()

		require.NoError(t, ensureTopic(admin, "ledger_sync_dlq", 0, 0, newTestLogger()))
		admin.AssertExpectations(t)
	})

	t.Run("CreateFailure", func(t *testing.T) {
		admin := new(mockTopicAdmin)
		createErr := errors.New("not controller")
		admin.On("ReadPartitions", []string{"t"}).Return([]kafka.Partition{}, nil).Once()
		admin.On("CreateTopics", mock.Anything).Return(createErr).Once()

		err := ensureTopic(admin, "t", 1, 1, newTestLogger())
		assert.ErrorIs(t, err, createErr)
	})
}
