package indicator

import (
	"os"
	"strings"
)

type locale string

const (
	localeEnglish   locale = "en"
	localeUkrainian locale = "uk"
)

type messages struct {
	recording   string
	photo       string
	remaining   string
	preparing   string
	recognizing string
	saving      string
	saved       string
	nothing     string
	cancelled   string
	errorText   string
	reasons     map[string]string
}

func resolveLocale(raw string) locale {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		raw = strings.ToLower(strings.TrimSpace(os.Getenv("LANG")))
	}
	if strings.HasPrefix(raw, "uk") {
		return localeUkrainian
	}
	return localeEnglish
}

func indicatorMessages(tag locale) messages {
	switch tag {
	case localeUkrainian:
		return messages{
			recording:   "Запис…",
			photo:       "Фото…",
			remaining:   "Запис, залишилось %s",
			preparing:   "Підготовка…",
			recognizing: "Розпізнавання…",
			saving:      "Збереження…",
			saved:       "Розпізнано: %s",
			nothing:     "Нічого не розпізнано",
			cancelled:   "Скасовано",
			errorText:   "Щось пішло не так",
			reasons: map[string]string{
				"PermissionDenied":     "Немає доступу до мікрофона чи камери",
				"SessionAlreadyActive": "Запис уже триває",
				"NoActiveSession":      "Немає активного запису",
				"ArtifactUnreadable":   "Не вдалося прочитати запис",
				"EncodingFailed":       "Не вдалося обробити зображення",
				"RecognitionFailed":    "Помилка розпізнавання",
				"PersistFailed":        "Не вдалося зберегти нотатку",
			},
		}
	case localeEnglish:
		fallthrough
	default:
		return messages{
			recording:   "Recording…",
			photo:       "Taking photo…",
			remaining:   "Recording, %s left",
			preparing:   "Preparing…",
			recognizing: "Recognizing…",
			saving:      "Saving…",
			saved:       "Recognized: %s",
			nothing:     "Nothing detected",
			cancelled:   "Cancelled",
			errorText:   "Something went wrong",
			reasons: map[string]string{
				"PermissionDenied":     "Microphone or camera unavailable",
				"SessionAlreadyActive": "A capture is already running",
				"NoActiveSession":      "No capture is running",
				"ArtifactUnreadable":   "Capture could not be read",
				"EncodingFailed":       "Image could not be encoded",
				"RecognitionFailed":    "Recognition failed",
				"PersistFailed":        "Could not save the note",
			},
		}
	}
}

func (m messages) reason(reason string) string {
	if text, ok := m.reasons[reason]; ok {
		return text
	}
	return m.errorText
}
