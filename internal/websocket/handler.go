package websocket

import (
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/knigoswap/knigoswap-api/internal/utils"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Источник проверяется на уровне JWT-токена, mini-app открывается
	// с разных доменов Telegram
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler возвращает HTTP-обработчик для установки WebSocket соединения.
// Токен передается параметром запроса, так как браузерный WebSocket API
// не позволяет задать заголовок Authorization.
func Handler(manager *Manager, jwtService *utils.JWTService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if token == "" {
			http.Error(w, "Отсутствует токен авторизации", http.StatusUnauthorized)
			return
		}

		userID, err := jwtService.ExtractUserID(token)
		if err != nil {
			http.Error(w, "Недействительный токен", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("Ошибка апгрейда WebSocket соединения: %v", err)
			return
		}

		client := NewClient(userID, conn, manager)
		client.Start()
	}
}
