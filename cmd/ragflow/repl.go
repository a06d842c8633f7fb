package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/ragflow/config"
	"github.com/BaSui01/ragflow/graph"
	"github.com/BaSui01/ragflow/ingest"
	"github.com/BaSui01/ragflow/types"
)

// runREPL 运行交互式对话循环. 每行输入处理为一轮对话,
// 以 / 开头的行是会话内命令.
func runREPL(engine *graph.Engine, queue *ingest.Queue, cfg *config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nShutting down...")
		cancel()
	}()

	conversationID := uuid.NewString()
	userID := "local"
	mode := types.ParseRetrievalMode(cfg.Engine.DefaultRetrievalMode)

	fmt.Printf("RAGFlow %s — 输入 /quit 退出, /mode 切换检索模式\n", Version)
	fmt.Printf("会话: %s  检索模式: %s\n\n", conversationID[:8], mode)

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			if quit := handleCommand(line, queue, &mode); quit {
				return nil
			}
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		default:
		}

		runOneTurn(ctx, engine, graph.TurnInput{
			ConversationID: conversationID,
			UserID:         userID,
			Message:        line,
			RetrievalMode:  mode,
		}, logger)
	}
}

// runOneTurn 消费一轮事件流并渲染到终端.
func runOneTurn(ctx context.Context, engine *graph.Engine, input graph.TurnInput, logger *zap.Logger) {
	streaming := false
	for ev := range engine.ProcessTurn(ctx, input) {
		switch ev.Type {
		case graph.EventStage:
			logger.Debug("stage", zap.String("stage", string(ev.Stage)))
		case graph.EventToken:
			streaming = true
			fmt.Print(ev.Token)
		case graph.EventSources:
			fmt.Printf("\n[引用 %d 条证据]\n", len(ev.Sources))
			for i, doc := range ev.Sources {
				name := doc.DocumentName()
				if name == "" {
					name = fmt.Sprintf("文档%d", i+1)
				}
				fmt.Printf("  %d. %s (%s)\n", i+1, name, doc.Source())
			}
		case graph.EventFinal:
			if !streaming {
				fmt.Println(ev.Answer)
			} else {
				fmt.Println()
			}
		case graph.EventError:
			fmt.Printf("错误: %s\n", ev.Err.Message)
		}
	}
	fmt.Println()
}

// handleCommand 处理会话内命令, 返回是否退出.
func handleCommand(line string, queue *ingest.Queue, mode *types.RetrievalMode) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true

	case "/mode":
		if len(fields) < 2 {
			fmt.Printf("当前检索模式: %s\n", *mode)
			return false
		}
		*mode = types.ParseRetrievalMode(fields[1])
		fmt.Printf("检索模式已切换为: %s\n", *mode)

	case "/ingest":
		if len(fields) < 3 {
			fmt.Println("用法: /ingest <名称> <内容>")
			return false
		}
		name := fields[1]
		content := strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(line, "/ingest"), " "+name))
		id, position, err := queue.Enqueue(ingest.Document{Name: name, Content: content})
		if err != nil {
			fmt.Printf("入库失败: %v\n", err)
			return false
		}
		fmt.Printf("已入队: %s (ID %s, 位置 %d)\n", name, id[:8], position)

	case "/status":
		status := queue.Status()
		fmt.Printf("入库队列: 排队 %d, 处理中 %d, 完成 %d, 失败 %d\n",
			len(status.Queued), len(status.Active), status.Done, status.Failed)
		for _, j := range status.Queued {
			fmt.Printf("  #%d %s\n", j.Position, j.Name)
		}

	default:
		fmt.Printf("未知命令: %s\n", fields[0])
	}
	return false
}
