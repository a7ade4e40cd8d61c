package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"marketplace-chat/internal/client"
	"marketplace-chat/internal/config"
	"marketplace-chat/internal/db"
	"marketplace-chat/internal/domain"
	"marketplace-chat/internal/realtime"
	"marketplace-chat/internal/service"
)

func main() {
	ctx := context.Background()
	reader := bufio.NewReader(os.Stdin)

	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}

	if len(os.Args) > 1 && os.Args[1] == "schema" {
		fmt.Println(db.Schema())
		return
	}

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	baseURL := os.Getenv("CHAT_URL")
	if baseURL == "" {
		baseURL = "http://localhost:" + cfg.HTTPPort
	}

	userID := os.Getenv("CHAT_USER_ID")
	if userID == "" {
		fmt.Print("Tu user id: ")
		userID = readLine(reader)
	}
	if userID == "" {
		log.Fatal("user id requerido")
	}

	// Token de desarrollo firmado con el mismo secreto que valida la API.
	jwtSvc := service.NewJWTService(cfg.JWTSecret, time.Duration(cfg.JWTAccessTTLMinutes)*time.Minute)
	token, err := jwtSvc.GenerateAccessToken(service.Identity{UserID: userID, DisplayName: os.Getenv("CHAT_DISPLAY_NAME")})
	if err != nil {
		log.Fatalf("generar token: %v", err)
	}
	api := client.New(baseURL, token, client.WithLogger(logger))

	for {
		fmt.Println("\n===== Chat Marketplace =====")
		fmt.Println("[1] Ver conversaciones")
		fmt.Println("[2] Abrir conversacion con un usuario")
		fmt.Println("[3] Buscar conversacion")
		fmt.Println("[4] Salir")
		fmt.Print("Selecciona una opcion: ")

		switch readLine(reader) {
		case "1":
			if err := inboxFlow(ctx, reader, api, userID); err != nil {
				fmt.Printf("Error en inbox: %v\n", err)
			}
		case "2":
			fmt.Print("User id de la otra persona: ")
			counterpart := readLine(reader)
			fmt.Print("Proyecto (opcional): ")
			var projectID *string
			if p := readLine(reader); p != "" {
				projectID = &p
			}
			conv, err := api.ResolveConversation(ctx, counterpart, projectID)
			if err != nil {
				fmt.Printf("Error abriendo conversacion: %v\n", err)
				continue
			}
			if err := chatFlow(ctx, reader, api, userID, conv.ID, counterpart); err != nil {
				fmt.Printf("Error en chat: %v\n", err)
			}
		case "3":
			fmt.Print("Nombre: ")
			found, err := api.SearchConversations(ctx, readLine(reader))
			if err != nil {
				fmt.Printf("Error buscando: %v\n", err)
				continue
			}
			printSummaries(found)
		case "4":
			return
		default:
			fmt.Println("Opcion invalida.")
		}
	}
}

func inboxFlow(ctx context.Context, reader *bufio.Reader, api *client.Client, userID string) error {
	summaries, err := api.ListConversations(ctx)
	if err != nil {
		return err
	}
	total, err := api.TotalUnread(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("No leidos en total: %d\n", total)
	if len(summaries) == 0 {
		fmt.Println("No hay conversaciones todavia.")
		return nil
	}
	printSummaries(summaries)

	fmt.Print("Abrir numero (enter para volver): ")
	choice := readLine(reader)
	if choice == "" {
		return nil
	}
	idx, err := strconv.Atoi(choice)
	if err != nil || idx < 1 || idx > len(summaries) {
		fmt.Println("Seleccion invalida.")
		return nil
	}
	selected := summaries[idx-1]
	return chatFlow(ctx, reader, api, userID, selected.ConversationID, displayName(selected.Counterpart))
}

func printSummaries(summaries []domain.ConversationSummary) {
	for i, s := range summaries {
		preview := "(sin mensajes)"
		if s.LastMessage != nil {
			preview = domain.Preview(s.LastMessage.Body, 40)
			if s.LastMessage.Kind == domain.MessageKindFile && preview == "" {
				preview = "[archivo]"
			}
		}
		unread := ""
		if s.UnreadCount > 0 {
			unread = fmt.Sprintf(" (%d nuevos)", s.UnreadCount)
		}
		fmt.Printf("[%d] %s%s: %s\n", i+1, displayName(s.Counterpart), unread, preview)
	}
}

func chatFlow(ctx context.Context, reader *bufio.Reader, api *client.Client, userID, conversationID, counterpart string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	session := client.NewSession(api, userID, conversationID)
	if err := session.Load(ctx); err != nil {
		return fmt.Errorf("cargar historial: %w", err)
	}
	// printed se comparte entre el loop de input y la goroutine del stream.
	var printMu sync.Mutex
	printed := make(map[string]struct{})
	for _, item := range session.Items() {
		printMessage(item.Message, userID, counterpart)
		printed[item.Message.ID] = struct{}{}
	}

	stream := api.NewStream(func(f realtime.Frame) {
		wasDegraded := session.Degraded()
		session.HandleFrame(ctx, f)
		printMu.Lock()
		defer printMu.Unlock()
		switch {
		case f.Type == string(realtime.EventDegraded) && !wasDegraded:
			fmt.Println("\n[sin conexion en tiempo real, reintentando...]")
		case f.Type == string(realtime.EventResync) && !session.Degraded():
			fmt.Println("\n[conexion recuperada]")
		}
		for _, item := range session.Items() {
			if item.Pending {
				continue
			}
			if _, ok := printed[item.Message.ID]; ok {
				continue
			}
			printed[item.Message.ID] = struct{}{}
			if item.Message.SenderID != userID {
				fmt.Println()
				printMessage(item.Message, userID, counterpart)
				fmt.Print("Tu > ")
			}
		}
	})
	if err := stream.Subscribe(session.Topic()); err != nil {
		return err
	}
	go func() {
		if err := stream.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			fmt.Printf("stream detenido: %v\n", err)
		}
	}()

	if _, err := session.MarkRead(ctx); err != nil {
		fmt.Printf("no se pudo marcar como leido: %v\n", err)
	}

	fmt.Println("---- Modo Chat ('salir' termina, '/mas' carga anteriores, enter vacio reintenta el borrador) ----")
	var draft string
	for {
		fmt.Print("Tu > ")
		text, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("leer input: %w", err)
		}
		text = strings.TrimSpace(text)
		switch {
		case text == "" && draft == "":
			continue
		case text == "":
			text = draft
		case strings.EqualFold(text, "salir") || strings.EqualFold(text, "exit"):
			fmt.Println("Saliendo del chat...")
			return nil
		case text == "/mas":
			n, err := session.LoadOlder(ctx, 20)
			if err != nil {
				fmt.Printf("error cargando historial: %v\n", err)
				continue
			}
			fmt.Printf("%d mensajes anteriores cargados.\n", n)
			printMu.Lock()
			for _, item := range session.Items() {
				printMessage(item.Message, userID, counterpart)
				printed[item.Message.ID] = struct{}{}
			}
			printMu.Unlock()
			continue
		}

		msg, err := session.Send(ctx, client.SendRequest{Body: text})
		if err != nil {
			var failure *client.SendFailure
			if errors.As(err, &failure) {
				draft = failure.Body
			}
			fmt.Printf("no se pudo enviar (%v). Borrador guardado: %q\n", err, draft)
			continue
		}
		draft = ""
		printMu.Lock()
		printed[msg.ID] = struct{}{}
		printMu.Unlock()
	}
}

func printMessage(msg domain.Message, userID, counterpart string) {
	who := counterpart
	if msg.SenderID == userID {
		who = "Tu"
	}
	body := msg.Body
	if msg.Kind == domain.MessageKindFile {
		name := "archivo"
		if msg.AttachmentName != nil {
			name = *msg.AttachmentName
		}
		body = strings.TrimSpace(fmt.Sprintf("[%s %s] %s", name, msg.AttachmentURL, msg.Body))
	}
	status := ""
	if msg.SenderID == userID && msg.Read {
		status = " ✓✓"
	}
	fmt.Printf("%s %s > %s%s\n", msg.CreatedAt.Local().Format("15:04"), who, body, status)
}

func displayName(p domain.PublicProfile) string {
	if p.Name != "" {
		return p.Name
	}
	return p.ID
}

func readLine(reader *bufio.Reader) string {
	line, _ := reader.ReadString('\n')
	return strings.TrimSpace(line)
}
