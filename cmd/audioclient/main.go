// Command audioclient streams a WAV file into the transcription service
// and prints the relayed results, exercising the full session lifecycle:
// create, stream, end.
package main

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

// WAV header is 44 bytes for standard PCM files
const wavHeaderSize = 44

// Stream audio in chunks to simulate real-time capture.
// At 16kHz 16-bit mono = 32000 bytes/second, 100ms chunks = 3200 bytes.
const chunkSize = 3200
const chunkIntervalMs = 100

func main() {
	audioFile := flag.String("audio", "testdata/sample-16khz.wav", "Path to WAV file (16kHz 16-bit mono)")
	serverAddr := flag.String("server", "localhost:8080", "Service address")
	patientID := flag.String("patient", "patient-demo", "Patient reference")
	doctorID := flag.String("doctor", "doctor-demo", "Doctor reference")
	provider := flag.String("provider", "", "Provider tag (empty = service default)")
	flag.Parse()

	f, err := os.Open(*audioFile)
	if err != nil {
		log.Fatalf("Failed to open audio file: %v", err)
	}
	defer f.Close()

	header := make([]byte, wavHeaderSize)
	if _, err := io.ReadFull(f, header); err != nil {
		log.Fatalf("Failed to read WAV header: %v", err)
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		log.Fatal("Not a valid WAV file")
	}

	audioFormat := binary.LittleEndian.Uint16(header[20:22])
	numChannels := binary.LittleEndian.Uint16(header[22:24])
	sampleRate := binary.LittleEndian.Uint32(header[24:28])
	bitsPerSample := binary.LittleEndian.Uint16(header[34:36])

	log.Printf("WAV file: format=%d channels=%d sampleRate=%d bitsPerSample=%d",
		audioFormat, numChannels, sampleRate, bitsPerSample)

	if audioFormat != 1 { // PCM
		log.Fatal("Only PCM format supported")
	}
	if sampleRate != 16000 {
		log.Printf("Warning: Sample rate is %d Hz, expected 16000 Hz", sampleRate)
	}

	sessionID := createSession(*serverAddr, *patientID, *doctorID, *provider)
	log.Printf("Created session %s", sessionID)

	wsURL := fmt.Sprintf("ws://%s/v1/transcribe/stream?session_id=%s", *serverAddr, sessionID)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()

	// Print results as they arrive
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var result map[string]any
			if err := json.Unmarshal(payload, &result); err != nil {
				log.Printf("Unparseable result: %s", payload)
				continue
			}
			if errMsg, ok := result["error"]; ok {
				log.Printf("ERROR: %v", errMsg)
				continue
			}
			if text, ok := result["text"]; ok {
				log.Printf("[final=%v] %v", result["is_final"], text)
			} else {
				log.Printf("Stream done: %s", payload)
			}
		}
	}()

	audioChunk := make([]byte, chunkSize)
	var totalBytes int64
	var chunkNum int
	startTime := time.Now()

	for {
		n, err := f.Read(audioChunk)
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Fatalf("Failed to read audio: %v", err)
		}

		chunkNum++
		totalBytes += int64(n)

		if err := conn.WriteMessage(websocket.BinaryMessage, audioChunk[:n]); err != nil {
			log.Fatalf("Failed to send chunk: %v", err)
		}

		if chunkNum%10 == 0 {
			log.Printf("Sent chunk %d (%d bytes total)", chunkNum, totalBytes)
		}

		// Simulate real-time streaming
		time.Sleep(chunkIntervalMs * time.Millisecond)
	}

	log.Printf("Finished streaming: %d chunks, %d bytes in %v", chunkNum, totalBytes, time.Since(startTime))

	if err := conn.WriteMessage(websocket.TextMessage, []byte("END_OF_STREAM")); err != nil {
		log.Fatalf("Failed to send end of stream: %v", err)
	}

	<-done

	doc := endSession(*serverAddr, sessionID)
	log.Printf("Session finalized: %d words", int(doc["word_count"].(float64)))
	fmt.Println(doc["full_transcript"])
}

func createSession(addr, patientID, doctorID, provider string) string {
	body, _ := json.Marshal(map[string]string{
		"patient_id": patientID,
		"doctor_id":  doctorID,
		"provider":   provider,
	})
	resp, err := http.Post("http://"+addr+"/v1/sessions", "application/json", bytes.NewReader(body))
	if err != nil {
		log.Fatalf("Failed to create session: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(resp.Body)
		log.Fatalf("Create session failed: status %d: %s", resp.StatusCode, payload)
	}
	var parsed struct {
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		log.Fatalf("Failed to decode create response: %v", err)
	}
	return parsed.SessionID
}

func endSession(addr, sessionID string) map[string]any {
	resp, err := http.Post("http://"+addr+"/v1/sessions/"+sessionID+"/end", "application/json", nil)
	if err != nil {
		log.Fatalf("Failed to end session: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(resp.Body)
		log.Fatalf("End session failed: status %d: %s", resp.StatusCode, payload)
	}
	var doc map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		log.Fatalf("Failed to decode end response: %v", err)
	}
	return doc
}
