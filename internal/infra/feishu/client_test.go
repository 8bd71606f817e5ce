package feishu

import (
	"testing"

	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestParseTextContent(t *testing.T) {
	got := parseTextContent(`{"text":"hi @_user_1, ping me"}`, map[string]string{"@_user_1": "Alice"})
	assert.Equal(t, "hi @Alice, ping me", got)

	assert.Equal(t, "", parseTextContent(`not json`, nil))
}

func TestParsePostContent(t *testing.T) {
	content := `{"title":"Deploy","content":[[{"tag":"text","text":"ship it "},{"tag":"at","user_id":"@_user_1"}],[{"tag":"img"}]]}`
	got := parsePostContent(content, map[string]string{"@_user_1": "Bob"})
	assert.Equal(t, "Deploy\nship it @Bob", got)
}

func TestConvertEvent(t *testing.T) {
	ev := &larkim.P2MessageReceiveV1Data{
		Sender: &larkim.EventSender{
			SenderId:   &larkim.UserId{OpenId: strPtr("ou_1")},
			SenderType: strPtr("user"),
		},
		Message: &larkim.EventMessage{
			MessageId:   strPtr("om_1"),
			ChatId:      strPtr("oc_1"),
			ChatType:    strPtr("p2p"),
			MessageType: strPtr("text"),
			Content:     strPtr(`{"text":"hello"}`),
			CreateTime:  strPtr("1700000000000"),
		},
	}

	msg := convertEvent(ev)
	require.NotNil(t, msg)
	assert.Equal(t, "oc_1", msg.ChatID)
	assert.Equal(t, "hello", msg.Content)
	assert.Equal(t, "ou_1", msg.SenderID)
	assert.Equal(t, int64(1700000000000), msg.CreateTime.UnixMilli())
}

func TestConvertEvent_SkipsBotAndUnsupported(t *testing.T) {
	bot := &larkim.P2MessageReceiveV1Data{
		Sender: &larkim.EventSender{SenderType: strPtr("app")},
		Message: &larkim.EventMessage{
			ChatId:      strPtr("oc_1"),
			MessageType: strPtr("text"),
			Content:     strPtr(`{"text":"echo"}`),
		},
	}
	assert.Nil(t, convertEvent(bot))

	image := &larkim.P2MessageReceiveV1Data{
		Message: &larkim.EventMessage{
			ChatId:      strPtr("oc_1"),
			MessageType: strPtr("image"),
			Content:     strPtr(`{"image_key":"k"}`),
		},
	}
	assert.Nil(t, convertEvent(image))
}
