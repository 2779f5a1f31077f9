package formatter

import (
	"github.com/go-telegram/bot/models"
	"github.com/goccy/go-json"

	appmodels "github.com/mixelka/mailtriage/pkg/models"
)

// BuildRecordKeyboard creates the inline keyboard under a record alert
func BuildRecordKeyboard(recordID string) *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{
				{
					Text: "Delete",
					CallbackData: EncodeCallback(appmodels.CallbackData{
						Action:   appmodels.CallbackDelete,
						RecordID: recordID,
					}),
				},
			},
		},
	}
}

// EncodeCallback encodes callback data to string
func EncodeCallback(data appmodels.CallbackData) string {
	b, _ := json.Marshal(data)
	return string(b)
}

// DecodeCallback decodes callback data from string
func DecodeCallback(data string) (appmodels.CallbackData, error) {
	var cb appmodels.CallbackData
	err := json.Unmarshal([]byte(data), &cb)
	return cb, err
}
